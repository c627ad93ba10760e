package submission

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/qri-io/jsonschema"

	"github.com/garnizeh/rioforms/pkg/models"
)

//go:embed schema/submission.json
var schemaJSON []byte

// ErrInvalid wraps every schema violation.
var ErrInvalid = errors.New("invalid submission")

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		rs := &jsonschema.Schema{}
		if err := json.Unmarshal(schemaJSON, rs); err != nil {
			schemaErr = fmt.Errorf("compile submission schema: %w", err)
			return
		}
		schema = rs
	})
	return schema, schemaErr
}

// Validate checks p against the deep-insert schema.
func Validate(ctx context.Context, p models.QueuedSubmission) error {
	rs, err := compiled()
	if err != nil {
		return err
	}
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}

	verrs, err := rs.ValidateBytes(ctx, b)
	if err != nil {
		return fmt.Errorf("schema validate error: %w", err)
	}
	if len(verrs) > 0 {
		var sb strings.Builder
		for _, v := range verrs {
			sb.WriteString(v.PropertyPath)
			sb.WriteString(": ")
			sb.WriteString(v.Message)
			sb.WriteString("; ")
		}
		return fmt.Errorf("%w: %s", ErrInvalid, strings.TrimSuffix(sb.String(), "; "))
	}

	for _, a := range p.AnswerRecords {
		if (a.TextAnswer == nil) == (a.BoolAnswer == nil) {
			return fmt.Errorf("%w: answer %s must carry exactly one of textAnswer, boolAnswer", ErrInvalid, a.QuestionID)
		}
	}
	return nil
}
