package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thechriswalker/go-decide/voting"
)

// ResponseError is a non 2xx answer of the API
type ResponseError struct {
	Status  int
	Code    int
	Message string
}

func (e *ResponseError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%d %s (code %d): %s", e.Status, http.StatusText(e.Status), e.Code, e.Message)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
}

// Client calls the API of a decide server with a token
type Client struct {
	base  string
	token string
	http  *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		http:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}
	log.Debug().Str("method", method).Str("url", req.URL.String()).Msg("http client request")
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if res.StatusCode >= 400 {
		return responseError(res.StatusCode, b)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(b, out)
}

// responseError reads either an error object or the bare string of an action
func responseError(status int, b []byte) error {
	re := &ResponseError{Status: status}
	var obj struct {
		Err  string `json:"error"`
		Code int    `json:"code"`
	}
	var msg string
	switch {
	case json.Unmarshal(b, &obj) == nil && obj.Err != "":
		re.Message, re.Code = obj.Err, obj.Code
	case json.Unmarshal(b, &msg) == nil:
		re.Message = msg
	default:
		re.Message = strings.TrimSpace(string(b))
	}
	return re
}

func votingPath(id int64) string {
	return fmt.Sprintf("/voting/%d/", id)
}

func (c *Client) CreateVoting(ctx context.Context, nv voting.NewVoting) (*voting.Voting, error) {
	v := &voting.Voting{}
	if err := c.do(ctx, http.MethodPost, VotingEndpoint, nv, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (c *Client) Voting(ctx context.Context, id int64) (*voting.Voting, error) {
	v := &voting.Voting{}
	if err := c.do(ctx, http.MethodGet, votingPath(id), nil, v); err != nil {
		return nil, err
	}
	return v, nil
}

// Action runs start, stop, tally or save and returns the server message
func (c *Client) Action(ctx context.Context, id int64, action string) (string, error) {
	var msg string
	err := c.do(ctx, http.MethodPut, votingPath(id), ActionRequest{Action: action}, &msg)
	return msg, err
}

func (c *Client) AddCensus(ctx context.Context, id int64, voters ...int64) (int, error) {
	var res CensusResponse
	err := c.do(ctx, http.MethodPost, votingPath(id)+"census/", CensusRequest{Voters: voters}, &res)
	return res.Added, err
}

func (c *Client) SubmitBallot(ctx context.Context, b BallotRequest) (*BallotResponse, error) {
	res := &BallotResponse{}
	if err := c.do(ctx, http.MethodPost, StoreEndpoint, b, res); err != nil {
		return nil, err
	}
	return res, nil
}
