// Package schema embeds the JSON schema for image manifests.
package schema

import _ "embed"

// ManifestSchemaURL is the resource name the schema is compiled under.
const ManifestSchemaURL = "manifest.schema.json"

//go:embed manifest.schema.json
var ManifestSchema []byte
