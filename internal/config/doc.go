// Package config holds the bot configuration blob.
//
// The interchange form is a JSON object:
//
//	{
//	  "username": "...",
//	  "password": "...",
//	  "package":  "packages/du",
//	  "server":   "http://www.example.org",
//	  "modules": {
//	    "base":  {"wait_time_factor": "1.5", "proxy": ""},
//	    "train": {"active": "1", "type": "strength"}
//	  }
//	}
//
// All module values are strings, including logically numeric or boolean
// ones; coercion is the engine's job. Parsing validates the document
// against a CUE schema before any value is read, so a blob that parses is
// always complete.
//
// Two serializations exist: redacted (password-like fields omitted, not
// masked) and full. Both are deterministic: modules and keys are sorted.
package config
