package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TestContext carries per-scenario state: who is acting, the last response
// and the case under test.
type TestContext struct {
	baseURL    string
	signingKey []byte
	issuer     string
	client     *http.Client

	users   map[string]string
	tokens  map[string]string
	current string

	lastStatus int
	lastBody   []byte
	caseID     string
}

func NewTestContext(baseURL, signingKey, issuer string) *TestContext {
	tc := &TestContext{
		baseURL:    strings.TrimRight(baseURL, "/"),
		signingKey: []byte(signingKey),
		issuer:     issuer,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
	tc.Reset()
	return tc
}

// Reset clears scenario state.
func (tc *TestContext) Reset() {
	tc.users = map[string]string{}
	tc.tokens = map[string]string{}
	tc.current = ""
	tc.lastStatus = 0
	tc.lastBody = nil
	tc.caseID = ""
}

// ActAs switches the caller, minting a session token the first time a name
// is seen.
func (tc *TestContext) ActAs(name, role string) error {
	if _, ok := tc.tokens[name]; !ok {
		userID := uuid.NewString()
		now := time.Now()
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"user_id": userID,
			"role":    role,
			"sub":     userID,
			"iss":     tc.issuer,
			"aud":     []string{"civicwatch"},
			"iat":     now.Unix(),
			"exp":     now.Add(time.Hour).Unix(),
		})
		signed, err := token.SignedString(tc.signingKey)
		if err != nil {
			return fmt.Errorf("sign token for %s: %w", name, err)
		}
		tc.users[name] = userID
		tc.tokens[name] = signed
	}
	tc.current = name
	return nil
}

func (tc *TestContext) UserID(name string) string {
	return tc.users[name]
}

// Send issues a JSON request as the current actor. {case} in path expands to
// the saved case ID.
func (tc *TestContext) Send(method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, tc.url(path), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	tc.authorize(req, tc.tokens[tc.current])
	return tc.do(req)
}

// SendWithToken issues a bodiless request with an explicit bearer token.
func (tc *TestContext) SendWithToken(method, path, token string) error {
	req, err := http.NewRequest(method, tc.url(path), nil)
	if err != nil {
		return err
	}
	tc.authorize(req, token)
	return tc.do(req)
}

// Upload posts files as multipart "files" parts, named as given.
func (tc *TestContext) Upload(path string, files map[string]string) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := mw.CreateFormFile("files", name)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(part, content); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, tc.url(path), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	tc.authorize(req, tc.tokens[tc.current])
	return tc.do(req)
}

func (tc *TestContext) GetLastResponseStatus() int {
	return tc.lastStatus
}

func (tc *TestContext) GetLastResponseBody() []byte {
	return tc.lastBody
}

// GetResponseField reads a dotted path such as "data.total" from the last
// JSON response.
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var body any
	if err := json.Unmarshal(tc.lastBody, &body); err != nil {
		return nil, fmt.Errorf("response is not JSON: %w", err)
	}
	cur := body
	for _, part := range strings.Split(field, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("field %q: %q is not an object", field, part)
		}
		if cur, ok = obj[part]; !ok {
			return nil, fmt.Errorf("field %q not found in response", field)
		}
	}
	return cur, nil
}

func (tc *TestContext) SetCaseID(caseID string) {
	tc.caseID = caseID
}

func (tc *TestContext) GetCaseID() string {
	return tc.caseID
}

func (tc *TestContext) url(path string) string {
	return tc.baseURL + strings.ReplaceAll(path, "{case}", tc.caseID)
}

func (tc *TestContext) authorize(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func (tc *TestContext) do(req *http.Request) error {
	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	tc.lastStatus = resp.StatusCode
	tc.lastBody = body
	return nil
}
