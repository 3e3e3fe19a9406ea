package types

import "time"

// Core events the SDK emits on its own behalf. Their schemas come from the
// global configuration document's core_events section.
const (
	EventSetUserID = "set_user_id_event"
	EventSetEmail  = "set_email_event"
	EventPageVisit = "set_page_visit"
)

// Core event parameter keys.
const (
	ParamOriginalVisitorID = "originalVisitorId"
	ParamUserID            = "userId"
	ParamUpdatedVisitorID  = "updatedVisitorId"
	ParamEmail             = "email"
	ParamPageURL           = "customURL"
	ParamPageTitle         = "pageTitle"
	ParamPageCategory      = "category"
)

// NewEvent builds an event stamped with a fresh id and the current time.
func NewEvent(name, category string, ctx map[string]Value) Event {
	if ctx == nil {
		ctx = map[string]Value{}
	}
	return Event{
		ID:        NewEventID(),
		Name:      name,
		Category:  category,
		Context:   ctx,
		Timestamp: time.Now().UnixMilli(),
	}
}

// SetUserIDEvent announces that visitorID is now known as userID.
func SetUserIDEvent(originalVisitorID, userID, updatedVisitorID string) Event {
	return NewEvent(EventSetUserID, CategoryCore, map[string]Value{
		ParamOriginalVisitorID: StringValue(originalVisitorID),
		ParamUserID:            StringValue(userID),
		ParamUpdatedVisitorID:  StringValue(updatedVisitorID),
	})
}

// SetEmailEvent announces the user's email address.
func SetEmailEvent(email string) Event {
	return NewEvent(EventSetEmail, CategoryCore, map[string]Value{
		ParamEmail: StringValue(email),
	})
}

// PageVisitEvent describes a screen visit as an event.
func PageVisitEvent(s Screen) Event {
	ctx := map[string]Value{
		ParamPageURL:   StringValue(s.Path),
		ParamPageTitle: StringValue(s.Title),
	}
	if s.Category != "" {
		ctx[ParamPageCategory] = StringValue(s.Category)
	}
	return NewEvent(EventPageVisit, CategoryCore, ctx)
}
