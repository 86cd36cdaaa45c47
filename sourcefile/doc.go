// Package sourcefile loads a configuration file and every file it references.
//
// Format is detected from the extension (.yaml, .yml, .json; .toml and .jsonc
// with ExtendedFormats). Watch reports changes to the file and to every file
// pulled in through a reference.
//
// Example:
//
//	source := sourcefile.New("config.yaml", sourcefile.Options{Required: true})
//	loader := refconf.NewLoader().WithSource(source)
package sourcefile
