package waffle

import (
	"context"
	"fmt"
	"io"
	"sort"
)

// StdoutProcessor renders each AssembledRecord as a human-readable line,
// reusing the effective-cause/attribute materialisation the assembly
// engine already computed rather than re-deriving anything. Grounded on
// waffle_core.cpp's processing-thread debug printer (print_attribute and
// its EVENT/span-context dump), generalized here into a reusable
// Processor instead of an ad hoc std::cout dump.
type StdoutProcessor struct {
	w io.Writer
}

// NewStdoutProcessor returns a Processor writing one formatted line per
// record to w.
func NewStdoutProcessor(w io.Writer) *StdoutProcessor {
	return &StdoutProcessor{w: w}
}

func (p *StdoutProcessor) OnRecord(rec AssembledRecord) {
	fmt.Fprintf(p.w, "[%s] %s trace=%d own=%d", rec.Type, rec.Name, rec.TraceID.Uint64(), rec.OwnID.Uint64())
	if rec.HasParent {
		fmt.Fprintf(p.w, " parent=%d", rec.ParentID.Uint64())
	}
	if rec.HasCause {
		fmt.Fprintf(p.w, " cause=%d", rec.EffectiveCause.Uint64())
	}
	if len(rec.Attributes) > 0 {
		fmt.Fprint(p.w, " { ")
		keys := make([]string, 0, len(rec.Attributes))
		for k := range rec.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			if i > 0 {
				fmt.Fprint(p.w, ", ")
			}
			fmt.Fprintf(p.w, "%s: %s", k, formatAttr(rec.Attributes[k]))
		}
		fmt.Fprint(p.w, " }")
	}
	fmt.Fprintln(p.w)
}

func formatAttr(a MaterialisedAttribute) string {
	switch a.Kind {
	case AttrBool:
		return fmt.Sprintf("%v", a.Bool)
	case AttrInt64:
		return fmt.Sprintf("%d", a.Int64)
	case AttrFloat64:
		return fmt.Sprintf("%g", a.Float)
	case AttrString:
		return fmt.Sprintf("%q", a.Str)
	default:
		return "?"
	}
}

func (p *StdoutProcessor) ForceFlush(ctx context.Context) error { return nil }
func (p *StdoutProcessor) Shutdown(ctx context.Context) error   { return nil }
