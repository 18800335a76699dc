package server

import "collabtext/internal/collab"

// Websocket actions.
const (
	ActionSubmit   = "submit"
	ActionAck      = "ack"
	ActionError    = "error"
	ActionSnapshot = "snapshot"
	ActionRecord   = "record"
)

// Message is the websocket envelope. Clients send submit; the server sends
// snapshot once on connect, then ack or error per submit and record for
// every record accepted on the document.
type Message struct {
	Action   string `json:"action"`
	ClientID string `json:"clientId,omitempty"`

	Submitted *collab.SubmittedRecord `json:"submitted,omitempty"`
	Record    *collab.ServerRecord    `json:"record,omitempty"`
	Result    collab.ResultType       `json:"result,omitempty"`

	Head *collab.RevisionText `json:"head,omitempty"`
	Text string               `json:"text,omitempty"`

	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

// DocumentView is the JSON body describing a document head.
type DocumentView struct {
	ID           string `json:"id"`
	Revision     int    `json:"revision"`
	TailRevision int    `json:"tailRevision"`
	Text         string `json:"text"`
}

// RecordsView is the JSON body of a records listing.
type RecordsView struct {
	Head         int                   `json:"head"`
	TailRevision int                   `json:"tailRevision"`
	Records      []collab.ServerRecord `json:"records"`
}

// SubmitView is the JSON body answering a submission.
type SubmitView struct {
	Result collab.ResultType   `json:"result"`
	Record collab.ServerRecord `json:"record"`
}

type errorView struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
