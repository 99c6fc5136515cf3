package model

import "time"

type FileEncoding string

const (
	FileEncodingUTF8   FileEncoding = "utf-8"
	FileEncodingBase64 FileEncoding = "base64"
)

// FileWriteEntry is one file in a batch write. Mode is an octal string like
// "644"; empty means 0644. Encoding defaults to utf-8.
type FileWriteEntry struct {
	Path     string       `json:"path" binding:"required"`
	Data     string       `json:"data"`
	Mode     string       `json:"mode,omitempty"`
	Encoding FileEncoding `json:"encoding,omitempty"`
}

type WriteFilesRequest struct {
	Entries []FileWriteEntry `json:"entries" binding:"required"`
}

// FileWriteResult is the per-entry outcome of a batch write. Entries fail
// independently; one bad path never blocks the rest of the batch.
type FileWriteResult struct {
	Path    string    `json:"path"`
	Success bool      `json:"success"`
	Error   *APIError `json:"error,omitempty"`
}

type WriteFilesResponse struct {
	Results []FileWriteResult `json:"results"`
}

type FileStat struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	Mode    string    `json:"mode"`
	IsDir   bool      `json:"is_dir"`
	ModTime time.Time `json:"mod_time"`
}

type FileListResponse struct {
	Items []FileStat `json:"items"`
}
