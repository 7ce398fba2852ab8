// Package kiln is the composition root of the kiln static content compiler.
//
// A site is a directory of items (content/), a rules file (rules.yaml) that
// says how every item is compiled into one or more representations, and an
// output directory. Builds are incremental: a rep whose item, rule and
// dependencies did not change is served from the compiled content cache
// instead of being recomputed.
//
// Features:
//
//   - **Dependency suspension**: a rep that includes another rep which has not
//     been compiled yet is parked and resumed once the dependency is done.
//     Dependency cycles are reported with the full wait path.
//   - **Persistent caches**: textual snapshots in a checksummed, compressed
//     index file; binary snapshots as plain files.
//   - **Notifications**: every stage and compilation step is published on a
//     notification center (debug printer, structured logs, Prometheus).
//   - **Watch mode**: recompiles after every batch of content changes.
//
// Usage:
//
//	site, err := kiln.New("./mysite", kiln.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	res, err := site.Compile(ctx)
package kiln
