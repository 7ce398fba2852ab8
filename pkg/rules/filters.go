package rules

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/aretw0/kiln/pkg/core"
)

// Filter transforms the text of rep.
type Filter func(ctx context.Context, rep *core.Rep, in string) (string, error)

const (
	FilterInclude  = "include"
	FilterMarkdown = "markdown"
	FilterTrim     = "trim"
)

// FilterNames lists the filters a rule may reference.
func FilterNames() []string {
	names := []string{FilterInclude, FilterMarkdown, FilterTrim}
	sort.Strings(names)
	return names
}

func cutSnapshot(step string) (string, bool) {
	return strings.CutPrefix(step, SnapshotFilterPrefix)
}

// includeDirective matches {{ include "/b.md" }} and {{ include "/b.md" "rep" }}.
var includeDirective = regexp.MustCompile(`\{\{\s*include\s+"([^"]+)"(?:\s+"([^"]+)")?\s*\}\}`)

// ContentReader gives filters access to the compiled content of other reps.
type ContentReader interface {
	CompiledContent(ctx context.Context, rep *core.Rep, snapshot string) (string, error)
}

// includeFilter replaces include directives with the last snapshot of the
// referenced rep. Reading a rep that has not been compiled yet suspends the
// computation until it has.
func includeFilter(plan *Plan, contents ContentReader) Filter {
	return func(ctx context.Context, rep *core.Rep, in string) (string, error) {
		matches := includeDirective.FindAllStringSubmatchIndex(in, -1)
		if len(matches) == 0 {
			return in, nil
		}

		var out strings.Builder
		last := 0
		for _, m := range matches {
			identifier := in[m[2]:m[3]]
			name := core.DefaultRepName
			if m[4] >= 0 {
				name = in[m[4]:m[5]]
			}

			dep, ok := plan.Rep(identifier, name)
			if !ok {
				return "", fmt.Errorf("%s includes %s (rep name :%s), which does not exist", rep, identifier, name)
			}
			text, err := contents.CompiledContent(ctx, dep, core.SnapshotLast)
			if err != nil {
				return "", err
			}

			out.WriteString(in[last:m[0]])
			out.WriteString(text)
			last = m[1]
		}
		out.WriteString(in[last:])
		return out.String(), nil
	}
}

// markdownFilter renders Markdown to HTML.
func markdownFilter(md goldmark.Markdown) Filter {
	return func(_ context.Context, rep *core.Rep, in string) (string, error) {
		var buf bytes.Buffer
		if err := md.Convert([]byte(in), &buf); err != nil {
			return "", fmt.Errorf("render markdown of %s: %w", rep, err)
		}
		return buf.String(), nil
	}
}

func trimFilter(_ context.Context, _ *core.Rep, in string) (string, error) {
	return strings.TrimSpace(in), nil
}

func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.DefinitionList,
		),
		// Included reps are already rendered HTML.
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)
}
