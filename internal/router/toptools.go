// Package router selects the minimal set of apps and tools for a turn: a
// low-temperature model call over the static top-tools catalog, followed by
// per-app preparation (connection check, tool selection, descriptor fetch).
package router

import "sort"

// TopTools is the static per-app catalog of canonical tool names with human
// descriptions. The router's model call may only answer from this catalog;
// anything else is filtered out.
type TopTools map[string]map[string]string

// DefaultTopTools returns the catalog for the supported apps.
func DefaultTopTools() TopTools {
	return TopTools{
		"GMAIL": {
			"GMAIL_SEND_EMAIL":         "Send an email from the user's mailbox",
			"GMAIL_CREATE_EMAIL_DRAFT": "Create a draft email",
			"GMAIL_FETCH_EMAILS":       "Fetch recent emails, optionally filtered by a query",
			"GMAIL_REPLY_TO_THREAD":    "Reply to an existing email thread",
			"GMAIL_SEARCH_PEOPLE":      "Search the user's contacts",
		},
		"GOOGLECALENDAR": {
			"GOOGLECALENDAR_CREATE_EVENT":    "Create a calendar event",
			"GOOGLECALENDAR_FIND_EVENT":      "Find events matching a query or time range",
			"GOOGLECALENDAR_UPDATE_EVENT":    "Update an existing calendar event",
			"GOOGLECALENDAR_DELETE_EVENT":    "Delete a calendar event",
			"GOOGLECALENDAR_FIND_FREE_SLOTS": "Find free time slots in the user's calendar",
		},
		"GOOGLEDRIVE": {
			"GOOGLEDRIVE_FIND_FILE":      "Find files by name or content",
			"GOOGLEDRIVE_CREATE_FOLDER":  "Create a folder",
			"GOOGLEDRIVE_UPLOAD_FILE":    "Upload a file",
			"GOOGLEDRIVE_ADD_PERMISSION": "Share a file or folder with someone",
		},
		"GOOGLEDOCS": {
			"GOOGLEDOCS_CREATE_DOCUMENT":          "Create a new Google Doc, optionally with initial text",
			"GOOGLEDOCS_GET_DOCUMENT_BY_ID":       "Read a document's content",
			"GOOGLEDOCS_UPDATE_EXISTING_DOCUMENT": "Append or replace text in an existing document",
		},
		"NOTION": {
			"NOTION_CREATE_PAGE":    "Create a page in a Notion workspace",
			"NOTION_SEARCH_NOTION":  "Search pages and databases",
			"NOTION_APPEND_BLOCK":   "Append content blocks to a page",
			"NOTION_QUERY_DATABASE": "Query a Notion database",
		},
	}
}

// Apps returns the catalog's app names, sorted.
func (t TopTools) Apps() []string {
	apps := make([]string, 0, len(t))
	for app := range t {
		apps = append(apps, app)
	}
	sort.Strings(apps)
	return apps
}

// HasApp reports whether the catalog knows the app.
func (t TopTools) HasApp(app string) bool {
	_, ok := t[app]
	return ok
}

// HasTool reports whether any app of the catalog carries the tool.
func (t TopTools) HasTool(tool string) bool {
	for _, tools := range t {
		if _, ok := tools[tool]; ok {
			return true
		}
	}
	return false
}
