package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/filechunkpro/filechunk-pro/adapter"
	"github.com/filechunkpro/filechunk-pro/common"
)

// checkRequest/checkResponse is the literal §6 wire contract for
// POST /api/upload/check.
type checkRequest struct {
	Hash string `json:"hash"`
}

type checkResponse struct {
	Exists bool   `json:"exists"`
	URL    string `json:"url,omitempty"`
}

func checkDedup(ctx context.Context, transport adapter.Transport, url, hash string, headers map[string]string) (checkResponse, error) {
	body, err := json.Marshal(checkRequest{Hash: hash})
	if err != nil {
		return checkResponse{}, common.NewError(common.ECode.IO(), "marshalling check request", err)
	}

	h := map[string]string{"Content-Type": "application/json"}
	for k, v := range headers {
		h[k] = v
	}

	resp, err := transport.Do(ctx, http.MethodPost, url, adapter.RequestOptions{Headers: h, Body: bytes.NewReader(body)})
	if err != nil {
		return checkResponse{}, common.NewError(common.ECode.Network(), "check request failed", err)
	}
	if resp.StatusCode >= 500 {
		return checkResponse{}, common.NewError(common.ECode.Server(), fmt.Sprintf("check returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 400 {
		return checkResponse{}, common.NewRetryableError(common.ECode.Server(), fmt.Sprintf("check rejected with %d", resp.StatusCode), nil, false)
	}

	var out checkResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return checkResponse{}, common.NewError(common.ECode.Server(), "malformed check response", err)
	}
	return out, nil
}

// chunkResponse is the literal §6 wire contract for
// POST /api/upload/chunk.
type chunkResponse struct {
	Success    bool `json:"success"`
	ChunkIndex int  `json:"chunkIndex"`
}

// uploadChunk builds the spec §6 multipart body: fields {fileId,
// chunkIndex, chunk} and POSTs it, classifying the response into
// fatal (4xx) vs. retryable (5xx/network).
func uploadChunk(ctx context.Context, transport adapter.Transport, url, fileID string, index int, data []byte, headers map[string]string) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("fileId", fileID); err != nil {
		return common.NewError(common.ECode.IO(), "writing fileId field", err)
	}
	if err := w.WriteField("chunkIndex", strconv.Itoa(index)); err != nil {
		return common.NewError(common.ECode.IO(), "writing chunkIndex field", err)
	}
	part, err := w.CreateFormFile("chunk", fmt.Sprintf("chunk-%d", index))
	if err != nil {
		return common.NewError(common.ECode.IO(), "creating chunk form part", err)
	}
	if _, err := part.Write(data); err != nil {
		return common.NewError(common.ECode.IO(), "writing chunk bytes", err)
	}
	if err := w.Close(); err != nil {
		return common.NewError(common.ECode.IO(), "closing multipart writer", err)
	}

	h := map[string]string{"Content-Type": w.FormDataContentType()}
	for k, v := range headers {
		h[k] = v
	}

	resp, err := transport.Do(ctx, http.MethodPost, url, adapter.RequestOptions{Headers: h, Body: bytes.NewReader(buf.Bytes())})
	if err != nil {
		return common.NewError(common.ECode.Network(), fmt.Sprintf("chunk %d request failed", index), err)
	}
	if resp.StatusCode >= 500 {
		return common.NewError(common.ECode.Network(), fmt.Sprintf("chunk %d server error %d", index, resp.StatusCode), nil)
	}
	if resp.StatusCode >= 400 {
		return common.NewRetryableError(common.ECode.Server(), fmt.Sprintf("chunk %d rejected with %d", index, resp.StatusCode), nil, false)
	}
	return nil
}

// mergeRequest/mergeResponse is the literal §6 wire contract for
// POST /api/upload/merge.
type mergeRequest struct {
	FileID     string `json:"fileId"`
	FileName   string `json:"fileName"`
	FileSize   int64  `json:"fileSize"`
	FileType   string `json:"fileType"`
	Hash       string `json:"hash"`
	ChunkCount int    `json:"chunkCount"`
}

type mergeResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
	FileID  string `json:"fileId"`
}

// errIncompleteChunks signals the spec §4.F "400 incomplete chunks" merge
// response, distinct from any other 4xx rejection so the engine knows to
// re-queue gaps and retry merge rather than fail the session outright.
type errIncompleteChunks struct{ message string }

func (e *errIncompleteChunks) Error() string { return e.message }

func mergeChunks(ctx context.Context, transport adapter.Transport, url string, req mergeRequest, headers map[string]string) (mergeResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return mergeResponse{}, common.NewError(common.ECode.IO(), "marshalling merge request", err)
	}

	h := map[string]string{"Content-Type": "application/json"}
	for k, v := range headers {
		h[k] = v
	}

	resp, err := transport.Do(ctx, http.MethodPost, url, adapter.RequestOptions{Headers: h, Body: bytes.NewReader(body)})
	if err != nil {
		return mergeResponse{}, common.NewError(common.ECode.Network(), "merge request failed", err)
	}
	if resp.StatusCode == http.StatusBadRequest && bytes.Contains(resp.Body, []byte("incomplete chunks")) {
		return mergeResponse{}, &errIncompleteChunks{message: string(resp.Body)}
	}
	if resp.StatusCode >= 500 {
		return mergeResponse{}, common.NewError(common.ECode.Network(), fmt.Sprintf("merge server error %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 400 {
		return mergeResponse{}, common.NewRetryableError(common.ECode.Server(), fmt.Sprintf("merge rejected with %d", resp.StatusCode), nil, false)
	}

	var out mergeResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return mergeResponse{}, common.NewError(common.ECode.Server(), "malformed merge response", err)
	}
	return out, nil
}
