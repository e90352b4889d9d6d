package mocks

// TaskEnvelope is the image API response wrapper.
type TaskEnvelope struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data,omitempty"`
}

// TaskCreated is the data returned by a create call.
type TaskCreated struct {
	TaskID string `json:"taskId"`
}

// TaskRecord is the data returned by a query call.
type TaskRecord struct {
	TaskID     string   `json:"taskId"`
	Model      string   `json:"model,omitempty"`
	State      string   `json:"state"`
	Progress   string   `json:"progress,omitempty"`
	ResultURLs []string `json:"resultUrls,omitempty"`
}

// TokenResponse is the Google OAuth token response.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// OAuthError is the Google OAuth error body.
type OAuthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ValueRange is a Sheets values read response.
type ValueRange struct {
	Range          string     `json:"range"`
	MajorDimension string     `json:"majorDimension"`
	Values         [][]string `json:"values,omitempty"`
}

// AppendResponse is a Sheets values append response.
type AppendResponse struct {
	SpreadsheetID string        `json:"spreadsheetId"`
	TableRange    string        `json:"tableRange"`
	Updates       AppendUpdates `json:"updates"`
}

// AppendUpdates summarizes an append.
type AppendUpdates struct {
	SpreadsheetID string `json:"spreadsheetId"`
	UpdatedRange  string `json:"updatedRange"`
	UpdatedRows   int    `json:"updatedRows"`
}

// FailureResponse makes one upstream answer with a fixed status and raw body.
type FailureResponse struct {
	Status int
	Body   string
}
