package dispatch

import (
	"sort"
	"strings"

	"github.com/anf-aiops/opsbot/pkg/registry"
)

// HelpEntry describes one operation in the help listing.
type HelpEntry struct {
	Operation   string `json:"operation"`
	Usage       string `json:"usage"`
	Summary     string `json:"summary,omitempty"`
	Destructive bool   `json:"destructive,omitempty"`
}

// usage renders the slash-command form, required parameters first:
// "/anf create pool account <account> pool <pool> [wait <bool>]".
func usage(namespace string, op registry.OperationDescriptor) string {
	var b strings.Builder
	b.WriteString("/" + namespace + " " + op.Action)
	if op.Entity != "" {
		b.WriteString(" " + op.Entity)
	}

	names := make([]string, 0, len(op.ParameterSchema))
	for n := range op.ParameterSchema {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		ri, rj := op.ParameterSchema[names[i]].Required, op.ParameterSchema[names[j]].Required
		if ri != rj {
			return ri
		}
		return names[i] < names[j]
	})

	for _, n := range names {
		spec := op.ParameterSchema[n]
		placeholder := "<" + n + ">"
		if spec.Kind != registry.KindString {
			placeholder = "<" + string(spec.Kind) + ">"
		}
		if spec.Required {
			b.WriteString(" " + n + " " + placeholder)
		} else {
			b.WriteString(" [" + n + " " + placeholder + "]")
		}
	}
	return b.String()
}
