// Package refconf resolves file references inside configuration trees and
// deep-merges configuration fragments.
//
// Quick Start:
//
//	// /app/base.json: {"db": "$FILE db.yml"}
//	// /app/db.yml:    host: localhost
//	r := refconf.NewResolver()
//	cfg, err := r.Resolve(ctx, refconf.StringValue("base.json"), "/app")
//	// cfg: {db: {host: localhost}}
//
// A string starting with the marker ("$FILE " by default) is replaced by the
// content of the named file. Relative paths are resolved against the directory
// of the file holding the reference. Files ending in .yml/.yaml and .json are
// parsed, module files (.js) go through a ModuleEvaluator, anything else loads
// as raw bytes. Missing or malformed files become empty mappings and are
// reported to a DiagnosticSink; WithStrict turns them into errors.
//
// Merge and MergeRecursive combine fragments: sequences are unioned without
// duplicates, mappings merge key by key, scalars and opaque values replace.
//
// Loader layers Sources (see sourcefile and sourceenv), merges them and
// resolves what is left. See example_test.go for detailed usage.
package refconf
