// Package sourceenv loads configuration from environment variables and dotenv files.
//
// Key normalization: FOO__BAR → foo.bar (nested), FOO_BAR → foo_bar
//
// Example:
//
//	source := sourceenv.New(sourceenv.Options{Prefix: "APP_", Files: []string{".env"}})
//	loader := refconf.NewLoader().WithSource(source)
package sourceenv
