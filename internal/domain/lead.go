package domain

import "encoding/json"

// LeadFormPayload is the tenant-defined form capture. The bridge treats it as
// opaque; schema validation belongs to the endpoints, not the transport.
type LeadFormPayload map[string]any

func (p LeadFormPayload) Encode() ([]byte, error) {
	return json.Marshal(p)
}
