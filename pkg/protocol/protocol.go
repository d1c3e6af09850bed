// Package protocol defines the vault HTTP wire types.
package protocol

// Header and form field names.
const (
	KeyHeader      = "vault-key"
	UploadIDHeader = "X-Upload-Id"
	FileNameHeader = "X-File-Name"
	APIKeyHeader   = "X-API-Key"

	FieldCommand = "command"
	FieldKey     = "key"
	FieldName    = "name"
	FieldFolder  = "folder"
	FieldSize    = "size"
	FieldID      = "id"
	FieldFiles   = "files"
	FieldChunk   = "chunk"
)

// Command names accepted by POST /files/{path}.
const (
	CommandCreate       = "create"
	CommandDelete       = "delete"
	CommandUpload       = "upload"
	CommandEncrypt      = "encrypt"
	CommandDecrypt      = "decrypt"
	CommandRename       = "rename"
	CommandMove         = "move"
	CommandVerify       = "verify"
	CommandUploadInit   = "upload-init"
	CommandUploadChunk  = "upload-chunk"
	CommandUploadCancel = "upload-cancel"
)

// Entry describes one file or folder in a listing.
type Entry struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	SizeText    string `json:"size_text"`
	Created     string `json:"created"`
	CreatedText string `json:"created_text"`
}

// Listing is the content of a folder. LockedPath is the lock root governing
// the folder ("docs/") or nil; Locked names the child folders that are lock
// roots themselves.
type Listing struct {
	LockedPath *string  `json:"locked_path"`
	Locked     []string `json:"locked"`
	Folders    []Entry  `json:"folders"`
	Files      []Entry  `json:"files"`
}

// ListResponse is returned by GET /files/{path} for folders.
type ListResponse struct {
	Success bool `json:"success"`
	Listing
}

// Extensions groups the file extensions accepted by upload.
type Extensions struct {
	Supported []string `json:"supported"`
	Extras    []string `json:"extras"`
	Converted []string `json:"converted"`
	External  []string `json:"external"`
}

// All returns every accepted extension.
func (e Extensions) All() []string {
	all := make([]string, 0, len(e.Supported)+len(e.Extras)+len(e.Converted)+len(e.External))
	all = append(all, e.Supported...)
	all = append(all, e.Extras...)
	all = append(all, e.Converted...)
	return append(all, e.External...)
}

// InfoResponse is returned by GET /info.
type InfoResponse struct {
	Success    bool       `json:"success"`
	Extensions Extensions `json:"extensions"`
	Message    string     `json:"message"`
}

// SuccessResponse is the bare success envelope.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// ErrorResponse is returned on every failure.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// VerifyResponse is returned by the verify command.
type VerifyResponse struct {
	Success bool `json:"success"`
	Valid   bool `json:"valid"`
}

// UploadResponse is returned by the upload command with the stored paths.
type UploadResponse struct {
	Success bool     `json:"success"`
	Files   []string `json:"files"`
}

// UploadInitResponse is returned by upload-init.
type UploadInitResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}

// UploadChunkResponse is returned by upload-chunk. File is set once the
// final chunk has been stored.
type UploadChunkResponse struct {
	Success  bool   `json:"success"`
	Received int64  `json:"received"`
	Complete bool   `json:"complete"`
	File     string `json:"file,omitempty"`
}

// Event is a vault mutation streamed on GET /events.
type Event struct {
	Type      string `json:"type"`
	Path      string `json:"path"`
	Timestamp int64  `json:"timestamp"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}
