package api

import _ "embed"

// OpenAPISpec is the API document served at /openapi.json.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
