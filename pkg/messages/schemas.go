package messages

// Schema kind labels, also used as the jsonschema resource names compiled
// by NewValidator.
const (
	KindScanSpec          = "scan_spec"
	KindConversionRequest = "conversion_request"
	KindMatch             = "match"
	KindMetadataRequest   = "metadata_request"
	KindMetadataMessage   = "metadata_message"
	KindProblem           = "problem"
	KindStatus            = "status"
)

var schemaSources = map[string]string{
	KindScanSpec: `{
		"type": "object",
		"required": ["scan_tag", "source", "rule"],
		"properties": {
			"scan_tag": {"$ref": "#/$defs/scan_tag"},
			"source": {"type": "object", "required": ["type"]},
			"rule": {"type": "object", "required": ["type"]},
			"configuration": {"type": "object"},
			"filter_rule": {"type": "object"},
			"progress": {"type": "object"}
		},
		"$defs": ` + scanTagDef + `
	}`,
	KindConversionRequest: `{
		"type": "object",
		"required": ["scan_spec", "handle", "progress"],
		"properties": {
			"scan_spec": {"type": "object"},
			"handle": {"type": "object", "required": ["type"]},
			"progress": {"type": "object"}
		}
	}`,
	KindMatch: `{
		"type": "object",
		"required": ["scan_spec", "handle", "progress", "matched", "terminal"],
		"properties": {
			"scan_spec": {"type": "object"},
			"handle": {"type": "object", "required": ["type"]},
			"progress": {"type": "object"},
			"value": {},
			"matched": {"type": "boolean"},
			"matches": {"type": "array"},
			"terminal": {"type": "boolean"}
		}
	}`,
	KindMetadataRequest: `{
		"type": "object",
		"required": ["scan_tag", "handle"],
		"properties": {
			"scan_tag": {"$ref": "#/$defs/scan_tag"},
			"handle": {"type": "object", "required": ["type"]}
		},
		"$defs": ` + scanTagDef + `
	}`,
	KindMetadataMessage: `{
		"type": "object",
		"required": ["scan_tag", "crunch"],
		"properties": {
			"scan_tag": {"$ref": "#/$defs/scan_tag"},
			"crunch": {"type": "string"},
			"owner": {"type": "string"},
			"mime": {"type": "string"},
			"presentation_url": {"type": "string"}
		},
		"$defs": ` + scanTagDef + `
	}`,
	KindProblem: `{
		"type": "object",
		"required": ["where", "problem"],
		"properties": {
			"scan_tag": {"$ref": "#/$defs/scan_tag"},
			"where": {"type": "string"},
			"problem": {"type": "string", "enum": ["unavailable", "malformed", "conversion", "rule"]},
			"extra": {"type": "array", "items": {"type": "string"}}
		},
		"$defs": ` + scanTagDef + `
	}`,
	KindStatus: `{
		"type": "object",
		"required": ["scan_tag", "message", "status_is_error"],
		"properties": {
			"scan_tag": {"$ref": "#/$defs/scan_tag"},
			"message": {"type": "string"},
			"status_is_error": {"type": "boolean"},
			"total_objects": {"type": "integer"},
			"new_sources": {"type": "integer"},
			"object_size": {"type": "integer"},
			"object_type": {"type": "string"}
		},
		"$defs": ` + scanTagDef + `
	}`,
}

const scanTagDef = `{
	"scan_tag": {
		"type": "object",
		"required": ["scanner", "time"],
		"properties": {
			"scanner": {
				"type": "object",
				"required": ["pk", "name"],
				"properties": {
					"pk": {"type": "integer"},
					"name": {"type": "string"}
				}
			},
			"time": {"type": "string"},
			"user": {"type": "string"},
			"organisation": {"type": "string"}
		}
	}
}`
