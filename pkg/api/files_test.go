package api

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomehq/tome/pkg/types"
)

const guideText = `# Connector Guide

The connector links your helpdesk to the knowledge base and keeps both
sides synchronised without manual exports.

## Reset Procedure

To reset the connector, open the settings page, click the reset button,
and confirm the dialog. After the reset completes the connector
resynchronises from scratch.
`

func TestFileUploadAndLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	domain := f.createDomain(t, "support")

	doc := f.uploadFile(t, domain.ID, "guide.md", guideText)
	assert.Equal(t, types.DocumentPending, doc.Status)
	assert.Equal(t, types.SourceFile, doc.Source)
	assert.Equal(t, &f.user.ID, doc.UploadedBy)

	rr := f.do(t, http.MethodGet, "/api/v1/files?domain="+domain.ID.String(), f.token, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var list fileListResponse
	decodeBody(t, rr, &list)
	require.Len(t, list.Files, 1)
	assert.Equal(t, 1, list.Total)

	rr = f.do(t, http.MethodGet, "/api/v1/files/"+doc.ID.String(), f.token, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodDelete, "/api/v1/files/"+doc.ID.String(), f.token, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = f.do(t, http.MethodGet, "/api/v1/files/"+doc.ID.String(), f.token, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestFileUploadRequiresDomain(t *testing.T) {
	f := newAPIFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "guide.md")
	require.NoError(t, err)
	_, err = part.Write([]byte(guideText))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+f.token)
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestFileUploadDuplicateContent(t *testing.T) {
	f := newAPIFixture(t)
	domain := f.createDomain(t, "support")
	f.uploadFile(t, domain.ID, "guide.md", guideText)

	rr := f.multipart(t, domain.ID, "copy.md", []byte(guideText))
	require.Equal(t, http.StatusConflict, rr.Code)

	var body errorBody
	decodeBody(t, rr, &body)
	assert.Equal(t, "duplicate_hash", body.Code)
}

func TestFileUploadTooLarge(t *testing.T) {
	f := newAPIFixture(t)
	domain := f.createDomain(t, "support")

	big := "# Big\n\n" + strings.Repeat("padding words for a very large upload ", 40000)
	rr := f.multipart(t, domain.ID, "big.md", []byte(big))
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code, rr.Body.String())
}

func TestFileUploadUnsupportedType(t *testing.T) {
	f := newAPIFixture(t)
	domain := f.createDomain(t, "support")

	rr := f.multipart(t, domain.ID, "tool.exe", []byte{0x4d, 0x5a, 0x00, 0x01, 0x02})
	require.Equal(t, http.StatusUnsupportedMediaType, rr.Code, rr.Body.String())
}

func TestFileListRequiresDomainParam(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodGet, "/api/v1/files", f.token, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestFileDownloadWithoutObjectStore(t *testing.T) {
	f := newAPIFixture(t)
	domain := f.createDomain(t, "support")
	doc := f.uploadFile(t, domain.ID, "guide.md", guideText)

	// The fixture runs without an object store; links cannot be minted.
	rr := f.do(t, http.MethodGet, "/api/v1/files/"+doc.ID.String()+"/download", f.token, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestFileWriteNeedsMemberRole(t *testing.T) {
	f := newAPIFixture(t)
	domain := f.createDomain(t, "support")
	doc := f.uploadFile(t, domain.ID, "guide.md", guideText)
	viewer := f.addTeammate(t, "viewer@acme.test", types.RoleViewer)

	rr := f.do(t, http.MethodDelete, "/api/v1/files/"+doc.ID.String(), viewer, nil)
	require.Equal(t, http.StatusForbidden, rr.Code)

	// Reading stays open to viewers.
	rr = f.do(t, http.MethodGet, "/api/v1/files/"+doc.ID.String(), viewer, nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestProcessedUploadBecomesSearchable(t *testing.T) {
	f := newAPIFixture(t)
	domain := f.createDomain(t, "support")
	doc := f.uploadFile(t, domain.ID, "guide.md", guideText)

	// Run the ingestion step a queue worker would.
	require.NoError(t, f.ingest.ProcessDocument(context.Background(), doc.ID))

	rr := f.do(t, http.MethodGet, "/api/v1/files/"+doc.ID.String(), f.token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var ready types.Document
	decodeBody(t, rr, &ready)
	assert.Equal(t, types.DocumentReady, ready.Status)
	assert.Positive(t, ready.ChunkCount)
}
