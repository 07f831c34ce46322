package jobs

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/nci/satgate/processor"
	"github.com/nci/satgate/utils"
)

const (
	TypeAggregate = "aggregate"
	TypeIndex     = "index"
	TypeMosaic    = "mosaic"
)

// JobRequest is the body of every job submission. Which fields apply
// depends on Type.
type JobRequest struct {
	Type       string   `json:"type" validate:"required,oneof=aggregate index mosaic"`
	SceneIDs   []string `json:"scene_ids,omitempty" validate:"omitempty,max=200,dive,required"`
	MosaicID   string   `json:"mosaic_id,omitempty"`
	Collection string   `json:"collection,omitempty"`
	Bands      []string `json:"bands,omitempty" validate:"omitempty,max=20,dive,required"`

	AggregationMethod string `json:"aggregation_method,omitempty"`

	IndexType  string             `json:"index_type,omitempty"`
	Expression string             `json:"expression,omitempty" validate:"max=1024"`
	Parameters map[string]float64 `json:"parameters,omitempty"`
	ColorMap   string             `json:"color_map,omitempty"`

	Strategy string `json:"strategy,omitempty"`

	AOI         json.RawMessage `json:"aoi,omitempty"`
	PreviewSize int             `json:"preview_size,omitempty" validate:"omitempty,gte=64,lte=8192"`
	Name        string          `json:"name,omitempty" validate:"max=200"`
}

var requestValidator = validator.New()

var mosaicIDPattern = regexp.MustCompile(`^mosaic_[0-9a-f]{32}$`)

func invalid(format string, args ...interface{}) error {
	return &utils.ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// Validate checks the request shape for its type. Failures are
// configuration errors.
func (r *JobRequest) Validate() error {
	if err := requestValidator.Struct(r); err != nil {
		return invalid("%v", err)
	}

	if len(r.AOI) > 0 {
		if _, err := processor.ParseAOI(r.AOI); err != nil {
			return err
		}
	}

	switch r.Type {
	case TypeAggregate:
		if len(r.SceneIDs) == 0 {
			return invalid("aggregate needs scene_ids")
		}
		if len(r.Bands) == 0 {
			return invalid("aggregate needs bands")
		}
		if len(r.AggregationMethod) > 0 {
			if _, err := processor.LookupReducer(r.AggregationMethod); err != nil {
				return err
			}
		}
	case TypeIndex:
		if (len(r.SceneIDs) == 0) == (len(r.MosaicID) == 0) {
			return invalid("index needs exactly one of scene_ids and mosaic_id")
		}
		if len(r.MosaicID) > 0 && !mosaicIDPattern.MatchString(r.MosaicID) {
			return invalid("mosaic_id %q is not a mosaic job id", r.MosaicID)
		}
		if _, err := processor.IndexBands(r.IndexSpec()); err != nil {
			return err
		}
		if len(r.AggregationMethod) > 0 {
			if _, err := processor.LookupReducer(r.AggregationMethod); err != nil {
				return err
			}
		}
	case TypeMosaic:
		if len(r.SceneIDs) == 0 {
			return invalid("mosaic needs scene_ids")
		}
	}
	return nil
}

func (r *JobRequest) IndexSpec() processor.IndexSpec {
	return processor.IndexSpec{Name: r.IndexType, Expression: r.Expression, Params: r.Parameters}
}

func (r *JobRequest) sceneRefs() []processor.SceneRef {
	refs := make([]processor.SceneRef, len(r.SceneIDs))
	for i, id := range r.SceneIDs {
		refs[i] = processor.SceneRef{ID: id, Collection: r.Collection}
	}
	return refs
}

func (r *JobRequest) aoi() (*processor.AOI, error) {
	if len(r.AOI) == 0 {
		return nil, nil
	}
	return processor.ParseAOI(r.AOI)
}
