package dto

import "github.com/cuongbtq/buddy-work/internal/orchestrator/domain"

// AssignWorkRequest is the body of POST /assign_buddy_work/.
// Every key is required, but an empty string is a valid value, so fields are
// pointers: nil means the key was absent (or null). Presence is checked after
// authentication, by the orchestrator.
type AssignWorkRequest struct {
	AuthKey        *string `json:"auth_key"`
	BaseID         *string `json:"base_id"`
	TableID        *string `json:"table_id"`
	AirtableAPIKey *string `json:"airtable_api_key"`
	FlowiseID      *string `json:"flowise_id"`
	ID             *string `json:"id"`
	Pwd            *string `json:"pwd"`
	Timezone       *int    `json:"timezone"`
	Order          *string `json:"order"`
	ChatID         *string `json:"chat_id"`
	SessionID      *string `json:"session_id"`
	Category       *string `json:"category"`
}

// ToDomain maps wire names onto the work request and records which keys
// were not sent
func (r AssignWorkRequest) ToDomain() domain.WorkRequest {
	var absent []string
	value := func(name string, v *string) string {
		if v == nil {
			absent = append(absent, name)
			return ""
		}
		return *v
	}

	offset := func(v *int) *int {
		if v == nil {
			absent = append(absent, "timezone")
		}
		return v
	}

	// calls run left to right, so absent follows the wire order
	req := domain.WorkRequest{
		AuthKey:        deref(r.AuthKey),
		StoreID:        value("base_id", r.BaseID),
		TableID:        value("table_id", r.TableID),
		StoreAPIKey:    value("airtable_api_key", r.AirtableAPIKey),
		EngineID:       value("flowise_id", r.FlowiseID),
		UserID:         value("id", r.ID),
		UserSecret:     value("pwd", r.Pwd),
		TimezoneOffset: offset(r.Timezone),
		Instruction:    value("order", r.Order),
		ChatID:         value("chat_id", r.ChatID),
		SessionID:      value("session_id", r.SessionID),
		Category:       value("category", r.Category),
	}
	req.Absent = absent

	return req
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// AssignWorkResponse acknowledges an accepted request
type AssignWorkResponse struct {
	Message  string `json:"message"`
	RecordID string `json:"record_id"`
	Status   string `json:"status"`
}

// ErrorResponse carries a human readable failure
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Version  string `json:"version,omitempty"`
	InFlight int64  `json:"in_flight"`
}
