// Package remoteconfig downloads and merges the configuration documents the
// SDK needs before it may process anything.
//
// Two documents exist. The global document is shared by every tenant and
// carries the core event schema, the tracker category name and the log
// endpoint. The tenant document carries the site id, gateway addresses, the
// realtime switch and the tenant's own event schema. Event schemas are merged
// recursively with tenant values winning on collision.
package remoteconfig

import (
	"encoding/json"
	"fmt"

	"github.com/solatis/engage/internal/types"
)

// Document names used in errors and logs.
const (
	GlobalDocument = "global"
	TenantDocument = "tenant"
)

// DecodeError reports a document that could not be decoded.
type DecodeError struct {
	Document string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s configuration: %v", e.Document, e.Err)
}

func (e *DecodeError) Unwrap() []error { return []error{types.ErrDocumentDecode, e.Err} }

type globalDoc struct {
	General *struct {
		LogsServiceEndpoint string `json:"logs_service_endpoint"`
	} `json:"general"`
	Optitrack *struct {
		EventCategoryName string `json:"event_category_name"`
	} `json:"optitrack"`
	Optipush *struct {
		RegistrationServiceEndpoint string `json:"registration_service_endpoint"`
	} `json:"optipush"`
	CoreEvents map[string]json.RawMessage `json:"core_events"`
}

type tenantDoc struct {
	EnableRealtime *bool `json:"enableRealtime"`
	Realtime       *struct {
		RealtimeToken   string `json:"realtimeToken"`
		RealtimeGateway string `json:"realtimeGateway"`
	} `json:"realtime"`
	Optitrack *struct {
		SiteID            int    `json:"siteId"`
		OptitrackEndpoint string `json:"optitrackEndpoint"`
	} `json:"optitrack"`
	Events map[string]json.RawMessage `json:"events"`
}

func decodeGlobal(data []byte) (*globalDoc, error) {
	var doc globalDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &DecodeError{Document: GlobalDocument, Err: err}
	}
	switch {
	case doc.General == nil:
		return nil, &DecodeError{Document: GlobalDocument, Err: fmt.Errorf("missing key %q", "general")}
	case doc.Optitrack == nil:
		return nil, &DecodeError{Document: GlobalDocument, Err: fmt.Errorf("missing key %q", "optitrack")}
	case doc.CoreEvents == nil:
		return nil, &DecodeError{Document: GlobalDocument, Err: fmt.Errorf("missing key %q", "core_events")}
	}
	return &doc, nil
}

func decodeTenant(data []byte) (*tenantDoc, error) {
	var doc tenantDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &DecodeError{Document: TenantDocument, Err: err}
	}
	switch {
	case doc.EnableRealtime == nil:
		return nil, &DecodeError{Document: TenantDocument, Err: fmt.Errorf("missing key %q", "enableRealtime")}
	case doc.Realtime == nil:
		return nil, &DecodeError{Document: TenantDocument, Err: fmt.Errorf("missing key %q", "realtime")}
	case doc.Optitrack == nil:
		return nil, &DecodeError{Document: TenantDocument, Err: fmt.Errorf("missing key %q", "optitrack")}
	case doc.Events == nil:
		return nil, &DecodeError{Document: TenantDocument, Err: fmt.Errorf("missing key %q", "events")}
	}
	return &doc, nil
}

// merge builds the Configuration from both decoded documents.
func merge(global *globalDoc, tenant *tenantDoc) (types.Configuration, error) {
	events, err := mergeEvents(global.CoreEvents, tenant.Events)
	if err != nil {
		return types.Configuration{}, err
	}
	cfg := types.Configuration{
		TenantID:    tenant.Optitrack.SiteID,
		LogEndpoint: global.General.LogsServiceEndpoint,
		Realtime: types.RealtimeConfig{
			Enabled: *tenant.EnableRealtime,
			Token:   tenant.Realtime.RealtimeToken,
			Gateway: tenant.Realtime.RealtimeGateway,
		},
		Tracker: types.TrackerConfig{
			SiteID:       tenant.Optitrack.SiteID,
			Endpoint:     tenant.Optitrack.OptitrackEndpoint,
			CategoryName: global.Optitrack.EventCategoryName,
		},
		Events: events,
	}
	if global.Optipush != nil {
		cfg.Registration.Endpoint = global.Optipush.RegistrationServiceEndpoint
	}
	return cfg, nil
}

// mergeEvents merges event schemas per event name. Both sides are merged as
// generic JSON first so a tenant can override a single field of a global
// event without restating the rest.
func mergeEvents(global, tenant map[string]json.RawMessage) (map[string]types.EventsConfig, error) {
	out := make(map[string]types.EventsConfig, len(global)+len(tenant))
	names := make(map[string]struct{}, len(global)+len(tenant))
	for name := range global {
		names[name] = struct{}{}
	}
	for name := range tenant {
		names[name] = struct{}{}
	}

	for name := range names {
		var merged any
		for _, src := range []struct {
			doc string
			raw json.RawMessage
		}{{GlobalDocument, global[name]}, {TenantDocument, tenant[name]}} {
			if src.raw == nil {
				continue
			}
			var v any
			if err := json.Unmarshal(src.raw, &v); err != nil {
				return nil, &DecodeError{Document: src.doc, Err: fmt.Errorf("event %q: %w", name, err)}
			}
			merged = mergeJSON(merged, v)
		}

		raw, err := json.Marshal(merged)
		if err != nil {
			return nil, &DecodeError{Document: TenantDocument, Err: fmt.Errorf("event %q: %w", name, err)}
		}
		var ec types.EventsConfig
		if err := json.Unmarshal(raw, &ec); err != nil {
			return nil, &DecodeError{Document: TenantDocument, Err: fmt.Errorf("event %q: %w", name, err)}
		}
		if ec.Parameters == nil {
			ec.Parameters = map[string]types.ParameterSpec{}
		}
		out[name] = ec
	}
	return out, nil
}

// mergeJSON returns newer merged over older. Objects merge key by key,
// recursively; any other pairing yields newer.
func mergeJSON(older, newer any) any {
	oldObj, ok1 := older.(map[string]any)
	newObj, ok2 := newer.(map[string]any)
	if !ok1 || !ok2 {
		return newer
	}
	merged := make(map[string]any, len(oldObj)+len(newObj))
	for k, v := range oldObj {
		merged[k] = v
	}
	for k, v := range newObj {
		if prev, ok := oldObj[k]; ok {
			merged[k] = mergeJSON(prev, v)
			continue
		}
		merged[k] = v
	}
	return merged
}
