package qjs

import (
	"crypto/md5"
	"fmt"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

var importRe = regexp.MustCompile(`import\s+.*;`)

// Source a script source handed to EvaluateSource. TypeScript sources are
// transformed with esbuild before evaluation.
type Source struct {
	Name       string
	Source     string
	TypeScript bool
}

// compiled a transformed source ready for the engine, kept in the runtime's
// bytecode cache keyed by the source checksum
type compiled struct {
	name      string
	bytecode  []byte
	sourcemap []byte
}

// key the bytecode-cache key. The name and the transform flag are part of
// the identity, the same text compiled as typescript is a different artifact
// than the plain javascript one.
func (source *Source) key() string {
	return fmt.Sprintf("%x", md5.Sum([]byte(fmt.Sprintf("%s\x00%v\x00%s", source.filename(), source.TypeScript, source.Source))))
}

func (source *Source) filename() string {
	if source.Name == "" {
		return "<input>"
	}
	return source.Name
}

// TransformTS transform the typescript code to javascript. Import statements
// are stripped, module resolution belongs to the host, not the bridge.
func TransformTS(name string, source []byte) ([]byte, []byte, error) {

	jsCode := importRe.ReplaceAllString(string(source), "")
	result := api.Transform(jsCode, api.TransformOptions{
		Loader:     api.LoaderTS,
		Target:     api.ESNext,
		Sourcemap:  api.SourceMapExternal,
		Sourcefile: name,
	})

	if len(result.Errors) > 0 {
		errors := []string{}
		for _, err := range result.Errors {
			errors = append(errors, err.Text)
		}
		return nil, nil, fmt.Errorf("transform ts code error: %v", strings.Join(errors, "\n"))
	}

	return result.Code, result.Map, nil
}
