// Package config loads, validates, and merges the hub's server
// configuration from two YAML layers: a global file and a project file.
//
// Each layer declares servers under a top-level "servers" mapping.
// Project entries override global entries of the same name field by
// field, with two exceptions: when the project entry names a transport,
// the transport and all connection parameters are taken wholesale from
// the project layer, and list/set fields (watchPaths, alwaysAllow,
// disabledTools) are replaced, never unioned.
//
// Decoding is strict: unknown fields are rejected rather than silently
// ignored, so a misspelled field surfaces immediately instead of doing
// nothing. Duplicate server names within one layer are rejected by the
// YAML decoder itself.
package config
