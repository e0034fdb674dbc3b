package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"

	"github.com/hyperjump/miru/internal/config"
	"github.com/hyperjump/miru/internal/embedding"
	"github.com/hyperjump/miru/internal/index"
	"github.com/hyperjump/miru/internal/models"
	"github.com/hyperjump/miru/internal/server"
	"go.uber.org/zap"
)

const e2eDimensions = 16

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Embedding.Dimensions = e2eDimensions

	manager := index.NewManager(embedding.NewMockEmbedder(e2eDimensions), cfg)
	srv := server.NewServer(manager, &cfg.Server, zap.NewNop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, ts *httptest.Server, path string, request, response interface{}) int {
	t.Helper()
	body, err := json.Marshal(request)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if response != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func TestE2E_IndexAndSearchFlow(t *testing.T) {
	ts := startServer(t)
	folder := t.TempDir()
	paths := WriteFixtures(t, folder, DefaultFixtures)

	// Unindexed folder reports not indexed.
	var check struct {
		Indexed bool `json:"indexed"`
	}
	if code := post(t, ts, "/api/v1/check_index", map[string]string{"folder": folder}, &check); code != http.StatusOK {
		t.Fatalf("check_index status %d", code)
	}
	if check.Indexed {
		t.Error("folder reported indexed before build")
	}

	// Build the index; the ignored .txt file must not count.
	var summary models.IndexSummary
	if code := post(t, ts, "/api/v1/index", map[string]string{"folder": folder}, &summary); code != http.StatusOK {
		t.Fatalf("index status %d", code)
	}
	if summary.Added != 3 || summary.Total != 3 {
		t.Fatalf("summary = %+v, want Added=3 Total=3", summary)
	}

	if code := post(t, ts, "/api/v1/check_index", map[string]string{"folder": folder}, &check); code != http.StatusOK {
		t.Fatalf("check_index status %d", code)
	}
	if !check.Indexed {
		t.Error("folder reported not indexed after build")
	}

	// Text search returns ranked results over the whole folder.
	var searchResp models.SearchResponse
	code := post(t, ts, "/api/v1/search",
		models.SearchRequest{Folder: folder, Query: "a red car", Limit: 10}, &searchResp)
	if code != http.StatusOK {
		t.Fatalf("search status %d", code)
	}
	if len(searchResp.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(searchResp.Results))
	}
	for i, r := range searchResp.Results {
		if r.Rank != i+1 {
			t.Errorf("result %d has rank %d", i, r.Rank)
		}
		if i > 0 && r.Similarity > searchResp.Results[i-1].Similarity {
			t.Errorf("results not in descending similarity order at %d", i)
		}
	}

	// Image search accepts an upload and ranks the whole folder.
	top := searchByImage(t, ts, folder, paths[1])
	if len(top.Results) != 3 {
		t.Errorf("image search returned %d results, want 3", len(top.Results))
	}
	for i, r := range top.Results {
		if r.Rank != i+1 {
			t.Errorf("image search result %d has rank %d", i, r.Rank)
		}
	}
}

func searchByImage(t *testing.T, ts *httptest.Server, folder, imagePath string) models.SearchResponse {
	t.Helper()
	data, err := os.ReadFile(imagePath)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("folder", folder); err != nil {
		t.Fatal(err)
	}
	fw, err := mw.CreateFormFile("image", "query.png")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatal(err)
	}
	mw.Close()

	resp, err := http.Post(ts.URL+"/api/v1/search_by_image", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("search_by_image status %d: %s", resp.StatusCode, b)
	}
	var out models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestE2E_CommentFlow(t *testing.T) {
	ts := startServer(t)
	folder := t.TempDir()
	paths := WriteFixtures(t, folder, DefaultFixtures)

	var summary models.IndexSummary
	if code := post(t, ts, "/api/v1/index", map[string]string{"folder": folder}, &summary); code != http.StatusOK {
		t.Fatalf("index status %d", code)
	}

	var commentResp struct {
		Comments []models.Comment `json:"comments"`
	}
	code := post(t, ts, "/api/v1/comments",
		map[string]string{"folder": folder, "path": paths[0], "comment": "great shot"}, &commentResp)
	if code != http.StatusOK {
		t.Fatalf("add comment status %d", code)
	}
	if len(commentResp.Comments) != 1 || commentResp.Comments[0].Text != "great shot" {
		t.Errorf("comments after add = %+v", commentResp.Comments)
	}

	resp, err := http.Get(fmt.Sprintf("%s/api/v1/comments?folder=%s&path=%s",
		ts.URL, url.QueryEscape(folder), url.QueryEscape(paths[0])))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get comments status %d", resp.StatusCode)
	}
	commentResp.Comments = nil
	if err := json.NewDecoder(resp.Body).Decode(&commentResp); err != nil {
		t.Fatal(err)
	}
	if len(commentResp.Comments) != 1 {
		t.Errorf("listed %d comments, want 1", len(commentResp.Comments))
	}

	var imagesResp struct {
		Images []models.AnnotatedImage `json:"images"`
	}
	if code := post(t, ts, "/api/v1/commented_images", map[string]string{"folder": folder}, &imagesResp); code != http.StatusOK {
		t.Fatalf("commented_images status %d", code)
	}
	if len(imagesResp.Images) != 1 || imagesResp.Images[0].Path != paths[0] {
		t.Errorf("commented images = %+v", imagesResp.Images)
	}
}

func TestE2E_IndexSurvivesRestart(t *testing.T) {
	folder := t.TempDir()
	WriteFixtures(t, folder, DefaultFixtures)

	ts1 := startServer(t)
	var summary models.IndexSummary
	if code := post(t, ts1, "/api/v1/index", map[string]string{"folder": folder}, &summary); code != http.StatusOK {
		t.Fatalf("index status %d", code)
	}
	ts1.Close()

	// A fresh server finds the persisted index on disk.
	ts2 := startServer(t)
	var searchResp models.SearchResponse
	code := post(t, ts2, "/api/v1/search",
		models.SearchRequest{Folder: folder, Query: "blue sky", Limit: 10}, &searchResp)
	if code != http.StatusOK {
		t.Fatalf("search after restart status %d", code)
	}
	if len(searchResp.Results) != 3 {
		t.Errorf("got %d results after restart, want 3", len(searchResp.Results))
	}
}

func TestE2E_ErrorStatuses(t *testing.T) {
	ts := startServer(t)

	if code := post(t, ts, "/api/v1/index", map[string]string{"folder": "/nonexistent/folder"}, nil); code != http.StatusBadRequest {
		t.Errorf("index invalid folder status %d, want 400", code)
	}
	empty := t.TempDir()
	if code := post(t, ts, "/api/v1/index", map[string]string{"folder": empty}, nil); code != http.StatusBadRequest {
		t.Errorf("index empty folder status %d, want 400", code)
	}
	if code := post(t, ts, "/api/v1/search",
		models.SearchRequest{Folder: empty, Query: "anything"}, nil); code != http.StatusBadRequest {
		t.Errorf("search unindexed status %d, want 400", code)
	}
}
