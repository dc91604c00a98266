package creatorstudio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/gorilla/mux"

	"github.com/PortNumber53/creator-studio/internal/auth"
	"github.com/PortNumber53/creator-studio/internal/config"
	"github.com/PortNumber53/creator-studio/internal/docstore"
	"github.com/PortNumber53/creator-studio/internal/handlers"
	"github.com/PortNumber53/creator-studio/internal/media"
	"github.com/PortNumber53/creator-studio/internal/models"
)

const bddInternalSecret = "bdd-publisher-secret"

// cdnUploader accepts every file and hands back a predictable delivery URL.
type cdnUploader struct{ n int }

func (u *cdnUploader) Upload(_ context.Context, req media.UploadRequest) (media.Asset, error) {
	size, err := io.Copy(io.Discard, req.File)
	if err != nil {
		return media.Asset{}, err
	}
	if req.Progress != nil {
		req.Progress(size, req.Size)
	}
	u.n++
	a := media.Asset{
		CanonicalURL: "https://cdn.bdd/" + req.Folder + "/" + req.Filename,
		AssetID:      fmt.Sprintf("%s/bdd-%d", req.Folder, u.n),
		Bytes:        size,
		Kind:         req.Kind,
		Format:       "jpg",
	}
	if req.Kind == media.KindVideo {
		d := 61.0
		a.Format, a.Duration = "mp4", &d
	}
	return a, nil
}

type bddTestContext struct {
	store        *docstore.MemStore
	handler      *handlers.Handler
	server       *httptest.Server
	user         string
	lastResponse *http.Response
	lastBody     []byte
	saved        map[string]string
}

func (ctx *bddTestContext) reset() {
	if ctx.server != nil {
		ctx.server.Close()
	}
	ctx.server = nil
	ctx.store = nil
	ctx.handler = nil
	ctx.user = ""
	ctx.lastResponse = nil
	ctx.lastBody = nil
	ctx.saved = map[string]string{}
}

func (ctx *bddTestContext) theAPIServerIsRunning() error {
	if ctx.server != nil {
		return nil
	}
	ctx.store = docstore.NewMemStore()
	ctx.handler = handlers.New(handlers.Deps{
		Store: ctx.store,
		Media: &cdnUploader{},
		Config: config.Config{
			InternalSecret: bddInternalSecret,
			PublicOrigin:   "https://studio.bdd",
		},
		Logger: log.New(io.Discard, "", 0),
	})
	r := mux.NewRouter()
	handlers.Register(r, ctx.handler, mux.MiddlewareFunc(auth.Middleware(auth.Insecure{})))
	ctx.server = httptest.NewServer(r)
	return nil
}

func (ctx *bddTestContext) iAmSignedInAs(uid string) error {
	ctx.user = uid
	return nil
}

func (ctx *bddTestContext) iAmSignedOut() error {
	ctx.user = ""
	return nil
}

var placeholder = regexp.MustCompile(`<([A-Za-z0-9_]+)>`)

// expand replaces <name> with a value saved earlier in the scenario.
func (ctx *bddTestContext) expand(s string) (string, error) {
	var missing string
	out := placeholder.ReplaceAllStringFunc(s, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := ctx.saved[name]
		if !ok {
			missing = name
		}
		return v
	})
	if missing != "" {
		return "", fmt.Errorf("nothing saved as %q", missing)
	}
	return out, nil
}

func (ctx *bddTestContext) send(req *http.Request) error {
	if ctx.user != "" {
		req.Header.Set("Authorization", "Bearer "+ctx.user)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	ctx.lastResponse = resp
	ctx.lastBody, err = io.ReadAll(resp.Body)
	return err
}

func (ctx *bddTestContext) newRequest(method, path, body string) (*http.Request, error) {
	path, err := ctx.expand(path)
	if err != nil {
		return nil, err
	}
	body, err = ctx.expand(body)
	if err != nil {
		return nil, err
	}
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ctx.server.URL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (ctx *bddTestContext) iSendARequestTo(method, path string) error {
	req, err := ctx.newRequest(method, path, "")
	if err != nil {
		return err
	}
	return ctx.send(req)
}

func (ctx *bddTestContext) iSendARequestToWithJSON(method, path string, body *godog.DocString) error {
	req, err := ctx.newRequest(method, path, body.Content)
	if err != nil {
		return err
	}
	return ctx.send(req)
}

func (ctx *bddTestContext) thePublisherSendsWithJSON(path string, body *godog.DocString) error {
	req, err := ctx.newRequest(http.MethodPost, path, body.Content)
	if err != nil {
		return err
	}
	req.Header.Set("X-Internal-Secret", bddInternalSecret)
	user := ctx.user
	ctx.user = ""
	defer func() { ctx.user = user }()
	return ctx.send(req)
}

func testJPEG(w, h int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{B: 180, A: 255})
	}
	var buf bytes.Buffer
	err := jpeg.Encode(&buf, img, nil)
	return buf.Bytes(), err
}

func (ctx *bddTestContext) iUploadAJPEGWithFields(w, h int, filename, path string, table *godog.Table) error {
	data, err := testJPEG(w, h)
	if err != nil {
		return err
	}
	path, err = ctx.expand(path)
	if err != nil {
		return err
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	hdr.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if table != nil {
		for _, row := range table.Rows {
			if len(row.Cells) != 2 {
				return fmt.Errorf("field rows need a name and a value")
			}
			if err := mw.WriteField(row.Cells[0].Value, row.Cells[1].Value); err != nil {
				return err
			}
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, ctx.server.URL+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return ctx.send(req)
}

func (ctx *bddTestContext) aPostIsDueFor(userID string, minutes int, content string) error {
	now := time.Now().UTC()
	sp := models.ScheduledPost{
		UserID:      userID,
		Content:     content,
		Platforms:   []string{"instagram"},
		ScheduledAt: now.Add(-time.Duration(minutes) * time.Minute),
		Status:      models.ScheduledStatusScheduled,
		CreatedAt:   now.Add(-time.Hour),
	}
	doc, err := ctx.store.Create(context.Background(), models.CollectionScheduledPosts, "", "", sp)
	if err != nil {
		return err
	}
	ctx.saved["duePostId"] = doc.ID
	return nil
}

func (ctx *bddTestContext) theResponseStatusCodeShouldBe(expectedCode int) error {
	if ctx.lastResponse == nil {
		return fmt.Errorf("no response received")
	}
	if ctx.lastResponse.StatusCode != expectedCode {
		return fmt.Errorf("expected status %d, got %d: %s", expectedCode, ctx.lastResponse.StatusCode, string(ctx.lastBody))
	}
	return nil
}

// lookup walks a dotted path such as "items.0.content" through the last body.
func (ctx *bddTestContext) lookup(path string) (any, error) {
	var v any
	if err := json.Unmarshal(ctx.lastBody, &v); err != nil {
		return nil, fmt.Errorf("response is not JSON: %w", err)
	}
	for _, seg := range strings.Split(path, ".") {
		switch cur := v.(type) {
		case map[string]any:
			next, ok := cur[seg]
			if !ok {
				return nil, fmt.Errorf("no %q in %s", seg, path)
			}
			v = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(cur) {
				return nil, fmt.Errorf("index %q out of range in %s (len %d)", seg, path, len(cur))
			}
			v = cur[i]
		default:
			return nil, fmt.Errorf("cannot descend into %q at %s", seg, path)
		}
	}
	return v, nil
}

func render(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return "null"
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

func (ctx *bddTestContext) theResponseShouldContainJSONWithSetTo(key, value string) error {
	v, err := ctx.lookup(key)
	if err != nil {
		return err
	}
	want, err := ctx.expand(value)
	if err != nil {
		return err
	}
	if got := render(v); got != want {
		return fmt.Errorf("expected %s=%q, got %q", key, want, got)
	}
	return nil
}

func (ctx *bddTestContext) theResponseErrorCodeShouldBe(code string) error {
	return ctx.theResponseShouldContainJSONWithSetTo("error.code", code)
}

func (ctx *bddTestContext) theResponseListShouldHaveItems(key string, count int) error {
	v, err := ctx.lookup(key)
	if err != nil {
		return err
	}
	items, ok := v.([]any)
	if !ok {
		return fmt.Errorf("%s is not a list: %s", key, render(v))
	}
	if len(items) != count {
		return fmt.Errorf("expected %d items in %s, got %d: %s", count, key, len(items), render(v))
	}
	return nil
}

func (ctx *bddTestContext) iSaveTheResponseFieldAs(key, name string) error {
	v, err := ctx.lookup(key)
	if err != nil {
		return err
	}
	ctx.saved[name] = render(v)
	return nil
}

func InitializeScenario(sc *godog.ScenarioContext) {
	testCtx := &bddTestContext{saved: map[string]string{}}

	sc.Before(func(c context.Context, _ *godog.Scenario) (context.Context, error) {
		testCtx.reset()
		return c, nil
	})
	sc.After(func(c context.Context, _ *godog.Scenario, _ error) (context.Context, error) {
		testCtx.reset()
		return c, nil
	})

	sc.Step(`^the API server is running$`, testCtx.theAPIServerIsRunning)
	sc.Step(`^I am signed in as "([^"]*)"$`, testCtx.iAmSignedInAs)
	sc.Step(`^I am signed out$`, testCtx.iAmSignedOut)
	sc.Step(`^I send a (GET|POST|DELETE) request to "([^"]*)"$`, testCtx.iSendARequestTo)
	sc.Step(`^I send a (POST|PUT|PATCH) request to "([^"]*)" with JSON:$`, testCtx.iSendARequestToWithJSON)
	sc.Step(`^the publisher sends a POST request to "([^"]*)" with JSON:$`, testCtx.thePublisherSendsWithJSON)
	sc.Step(`^I upload a (\d+)x(\d+) JPEG named "([^"]*)" to "([^"]*)" with fields:$`, testCtx.iUploadAJPEGWithFields)
	sc.Step(`^a scheduled post for "([^"]*)" was due (\d+) minutes ago with content "([^"]*)"$`, testCtx.aPostIsDueFor)
	sc.Step(`^the response status code should be (\d+)$`, testCtx.theResponseStatusCodeShouldBe)
	sc.Step(`^the response should contain JSON with "([^"]*)" set to "([^"]*)"$`, testCtx.theResponseShouldContainJSONWithSetTo)
	sc.Step(`^the response error code should be "([^"]*)"$`, testCtx.theResponseErrorCodeShouldBe)
	sc.Step(`^the response list "([^"]*)" should have (\d+) items?$`, testCtx.theResponseListShouldHaveItems)
	sc.Step(`^I save the response field "([^"]*)" as "([^"]*)"$`, testCtx.iSaveTheResponseFieldAs)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
