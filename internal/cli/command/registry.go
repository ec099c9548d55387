package command

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "job",
			Action:       "submit",
			Method:       "POST",
			PathTemplate: "/submit",
			Fields: []Field{
				{Name: "code", Aliases: []string{"source", "source_code"}, Prompt: "code", Type: FieldString, Required: true},
				{Name: "file", Aliases: []string{"source_file"}, Prompt: "source file", Type: FieldFile},
				{Name: "lang", Aliases: []string{"language"}, Prompt: "lang", Type: FieldString},
				{Name: "input", Prompt: "stdin", Type: FieldString},
				{Name: "input_file", Prompt: "stdin file", Type: FieldFile},
			},
		},
		{
			Service:      "job",
			Action:       "result",
			Method:       "GET",
			PathTemplate: "/result/:id",
			Fields: []Field{
				{Name: "id", Prompt: "job id", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "job",
			Action:       "wait",
			Method:       "GET",
			PathTemplate: "/result/:id",
			Poll:         true,
			Fields: []Field{
				{Name: "id", Prompt: "job id", Type: FieldString, Required: true},
				{Name: "interval", Prompt: "poll interval", Type: FieldDuration},
				{Name: "timeout", Prompt: "wait timeout", Type: FieldDuration},
			},
		},
		{
			Service:      "question",
			Action:       "list",
			Method:       "GET",
			PathTemplate: "/api/questions",
		},
		{
			Service:      "question",
			Action:       "get",
			Method:       "GET",
			PathTemplate: "/api/questions/:id",
			Fields: []Field{
				{Name: "id", Prompt: "question id", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "question",
			Action:       "save",
			Method:       "POST",
			PathTemplate: "/save",
			Fields: []Field{
				{Name: "file", Prompt: "question json file", Type: FieldFile},
				{Name: "id", Prompt: "question id", Type: FieldString, Required: true},
				{Name: "title", Prompt: "title", Type: FieldString, Required: true},
				{Name: "description", Aliases: []string{"desc"}, Prompt: "description", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "server",
			Action:       "health",
			Method:       "GET",
			PathTemplate: "/healthz",
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Key()] = cmd
	}
	return result
}

// Keys lists registry keys in a stable order.
func Keys(commands map[string]Command) []string {
	keys := make([]string, 0, len(commands))
	for key := range commands {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Satisfied reports whether params already cover field, directly or via a
// file field that supplies the same content.
func Satisfied(cmd Command, field Field, params Params) bool {
	if params.Get(field.Name) != "" {
		return true
	}
	switch cmd.Key() {
	case "job submit":
		return field.Name == "code" && params.Get("file") != ""
	case "question save":
		return params.Get("file") != ""
	}
	return false
}

// BuildRequest turns cmd and params into a RequestSpec.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}

	headers := map[string]string{}
	var body []byte
	if cmd.Method != "GET" && cmd.Method != "DELETE" {
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if payload != nil {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
			headers["Content-Type"] = "application/json"
		}
	}

	return RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: headers,
		Body:    body,
	}, nil
}

func buildPath(template string, params Params) (string, error) {
	path := template
	placeholder := ":id"
	if strings.Contains(path, placeholder) {
		value := params.Get("id")
		if value == "" {
			return "", fmt.Errorf("missing path parameter: id")
		}
		path = strings.ReplaceAll(path, placeholder, url.PathEscape(value))
	}
	return path, nil
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	switch cmd.Key() {
	case "job submit":
		return buildSubmitPayload(params)
	case "question save":
		return buildQuestionPayload(params)
	}
	return nil, nil
}

func buildSubmitPayload(params Params) (interface{}, error) {
	code := params.Get("code")
	if code == "" && params.Get("file") != "" {
		data, err := ReadFile(params.Get("file"))
		if err != nil {
			return nil, err
		}
		code = data
	}
	if code == "" {
		return nil, fmt.Errorf("code is required")
	}

	lang := params.Get("lang")
	if lang == "" {
		lang = "cpp"
	}
	payload := map[string]interface{}{
		"lang": lang,
		"code": code,
	}
	input := params.Get("input")
	if params.Get("input_file") != "" {
		data, err := ReadFile(params.Get("input_file"))
		if err != nil {
			return nil, err
		}
		input = data
	}
	if params.Has("input") || params.Get("input_file") != "" {
		payload["input"] = input
	}
	return payload, nil
}

func buildQuestionPayload(params Params) (interface{}, error) {
	if path := params.Get("file"); path != "" {
		data, err := ReadFile(path)
		if err != nil {
			return nil, err
		}
		raw := json.RawMessage(strings.TrimSpace(data))
		if !json.Valid(raw) {
			return nil, fmt.Errorf("invalid json in %s", path)
		}
		return raw, nil
	}
	for _, key := range []string{"id", "title", "description"} {
		if params.Get(key) == "" {
			return nil, fmt.Errorf("%s is required", key)
		}
	}
	return map[string]string{
		"id":          params.Get("id"),
		"title":       params.Get("title"),
		"description": params.Get("description"),
	}, nil
}
