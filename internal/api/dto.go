package api

// issueUserTokenRequest is POST /api/admin/token's body.
type issueUserTokenRequest struct {
	DurationSeconds int `json:"duration_seconds" binding:"required,gt=0,lte=86400"`
	MaxQueueSongs   int `json:"max_queue_songs" binding:"gte=0"`
	MaxAddRequests  int `json:"max_add_requests" binding:"gte=0"`
}

// issueLivestreamTokenRequest is POST /api/admin/livestream/token's body.
type issueLivestreamTokenRequest struct {
	MaxStreamingSeconds int    `json:"max_streaming_seconds" binding:"required,gte=60,lte=28800"`
	ShowName            string `json:"show_name"`
	MinRecordingDuration int   `json:"min_recording_duration" binding:"gte=0,lte=3600"`
}

// subscribeWebhookRequest is POST /api/admin/webhooks/subscribe's body.
type subscribeWebhookRequest struct {
	URL         string   `json:"url" binding:"required,url"`
	Events      []string `json:"events" binding:"required,min=1"`
	SigningKey  string   `json:"signing_key" binding:"required"`
	Description string   `json:"description"`
}

// livestreamAuthRequest is POST /api/internal/livestream/auth's body. The
// mixer's Icecast-style source-auth callback passes the livestream bearer
// token in the password field; there is no separate account password in
// this system (spec.md's Non-goals exclude static account management).
type livestreamAuthRequest struct {
	User     string `json:"user"`
	Password string `json:"password" binding:"required"`
}

// livestreamConnectRequest is POST /api/internal/livestream/connect's body.
type livestreamConnectRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// livestreamDisconnectRequest is POST /api/internal/livestream/disconnect's body.
type livestreamDisconnectRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Reason    string `json:"reason" binding:"required,oneof=client limit admin"`
}

// livestreamMetadataRequest is POST /api/internal/livestream/metadata's body.
type livestreamMetadataRequest struct {
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Genre       string `json:"genre"`
	Description string `json:"description"`
}

// adminAddSongRequest holds the text fields of POST /api/admin/queue/add's
// multipart form (the file comes through the same form).
type adminAddSongRequest struct {
	Title  string `form:"title"`
	Artist string `form:"artist"`
	Genre  string `form:"genre"`
}
