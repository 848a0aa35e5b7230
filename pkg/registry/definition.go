// Package registry stores versioned API definitions for the worker-service.
// It keeps the id/version/route plumbing only; compiling routes and resolving
// conflicts against live workers happens elsewhere.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
)

type DefinitionId string

type Version string

// Route is one declarative binding carried by an API definition.
type Route struct {
	Method  string `json:"method"`
	Path    string `json:"path"`
	Binding string `json:"binding,omitempty"`
}

// ApiDefinition is a versioned, declaratively registered API. Once published
// (Draft == false) a version is immutable.
type ApiDefinition struct {
	Id      DefinitionId `json:"id"`
	Version Version      `json:"version"`
	Draft   bool         `json:"draft"`
	Routes  []Route      `json:"routes"`
}

func (d ApiDefinition) Validate() error {
	if d.Id == "" {
		return errors.New("api definition id must not be empty")
	}
	if d.Version == "" {
		return errors.New("api definition version must not be empty")
	}
	return nil
}

// openAPI extension keys carrying the definition identity inside an OpenAPI
// document.
const (
	extensionId      = "x-api-definition-id"
	extensionVersion = "x-api-definition-version"
)

// FromOpenAPI extracts an ApiDefinition from an OpenAPI document. Only the
// identity extensions and the path/method skeleton are read; the rest of the
// document is the route compiler's concern.
func FromOpenAPI(payload []byte) (ApiDefinition, error) {
	var doc struct {
		OpenAPI string                                `json:"openapi"`
		Id      string                                `json:"x-api-definition-id"`
		Version string                                `json:"x-api-definition-version"`
		Paths   map[string]map[string]json.RawMessage `json:"paths"`
	}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return ApiDefinition{}, fmt.Errorf("invalid OpenAPI document: %w", err)
	}
	if doc.OpenAPI == "" {
		return ApiDefinition{}, errors.New("missing openapi field")
	}
	if doc.Id == "" {
		return ApiDefinition{}, fmt.Errorf("missing %s extension", extensionId)
	}
	if doc.Version == "" {
		return ApiDefinition{}, fmt.Errorf("missing %s extension", extensionVersion)
	}

	def := ApiDefinition{
		Id:      DefinitionId(doc.Id),
		Version: Version(doc.Version),
		Draft:   true,
	}
	for path, ops := range doc.Paths {
		for method := range ops {
			def.Routes = append(def.Routes, Route{Method: method, Path: path})
		}
	}
	return def, nil
}
