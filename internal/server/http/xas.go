package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/ekisa-team/beamline/internal/model"
	"github.com/ekisa-team/beamline/internal/predictor"
	"github.com/ekisa-team/beamline/internal/service"
	"github.com/ekisa-team/beamline/internal/structure"
)

type (
	PredictRequestDTO struct {
		ModelID   string       `json:"model_id,omitempty"`
		Theory    string       `json:"theory,omitempty"`
		Absorber  string       `json:"absorber,omitempty"`
		Version   string       `json:"version,omitempty"`
		Average   bool         `json:"average,omitempty"`
		Structure StructureDTO `json:"structure"`
	}

	StructureDTO struct {
		Lattice *[3][3]float64 `json:"lattice,omitempty" doc:"Lattice vectors as rows, in angstrom"`
		Sites   []AtomDTO      `json:"sites"             minItems:"1"`
	}

	AtomDTO struct {
		Species string      `json:"species"       minLength:"1" maxLength:"3"`
		XYZ     *[3]float64 `json:"xyz,omitempty" doc:"Cartesian coordinates in angstrom"`
		ABC     *[3]float64 `json:"abc,omitempty" doc:"Fractional coordinates, requires a lattice"`
	}

	ArrayDTO struct {
		Shape []int     `json:"shape"`
		Data  []float64 `json:"data"`
	}

	SitePredictionDTO struct {
		Index    int       `json:"index"`
		Spectrum *ArrayDTO `json:"spectrum"`
	}

	PredictResponseDTO struct {
		ModelID  string              `json:"model_id"`
		Absorber string              `json:"absorber"`
		Energies []float64           `json:"energies,omitempty"`
		Sites    []SitePredictionDTO `json:"sites"`
		Average  *ArrayDTO           `json:"average,omitempty"`
		Cached   bool                `json:"cached"`
	}

	ModelDTO struct {
		ID        string     `json:"id"`
		Name      string     `json:"name"`
		Theory    string     `json:"theory"`
		XASType   string     `json:"xas_type"`
		Version   string     `json:"version"`
		Directory string     `json:"directory"`
		Absorber  string     `json:"absorber,omitempty"`
		Status    string     `json:"status"`
		Permalink string     `json:"permalink,omitempty"`
		Tags      []string   `json:"tags,omitempty"`
		LoadedAt  *time.Time `json:"loaded_at,omitempty"`
		Error     string     `json:"error,omitempty"`
	}

	GridResponseDTO struct {
		Theory   string    `json:"theory"`
		Element  string    `json:"element"`
		Energies []float64 `json:"energies"`
	}
)

type (
	PredictInput struct {
		Body PredictRequestDTO
	}

	PredictOutput struct {
		Body PredictResponseDTO
	}

	ListModelsOutput struct {
		Body []ModelDTO
	}

	ModelInfoInput struct {
		ID string `path:"id" minLength:"1"`
	}

	ModelInfoOutput struct {
		Body struct {
			ID   string `json:"id"`
			Card string `json:"card"`
		}
	}

	GridInput struct {
		Theory  string `path:"theory"  minLength:"1"`
		Element string `path:"element" minLength:"1"`
	}

	GridOutput struct {
		Body GridResponseDTO
	}
)

// XASHandler handles HTTP requests for spectrum predictions.
type XASHandler struct {
	service *service.XAS
}

// NewXASHandler creates a new XASHandler instance and registers its
// operations on api.
func NewXASHandler(api huma.API, service *service.XAS) *XASHandler {
	h := &XASHandler{service: service}

	huma.Register(api, huma.Operation{
		OperationID:   "predict",
		Method:        http.MethodPost,
		Path:          "/predict",
		Summary:       "Predict site-resolved XAS spectra for a structure",
		Tags:          []string{"xas"},
		DefaultStatus: http.StatusOK,
	}, h.handlePredict)

	huma.Register(api, huma.Operation{
		OperationID: "list-models",
		Method:      http.MethodGet,
		Path:        "/models",
		Summary:     "List configured models",
		Tags:        []string{"models"},
	}, h.handleListModels)

	huma.Register(api, huma.Operation{
		OperationID: "model-info",
		Method:      http.MethodGet,
		Path:        "/models/{id}",
		Summary:     "Show the model card of a loaded model",
		Tags:        []string{"models"},
	}, h.handleModelInfo)

	huma.Register(api, huma.Operation{
		OperationID: "get-grid",
		Method:      http.MethodGet,
		Path:        "/grids/{theory}/{element}",
		Summary:     "Energy grid predictions are sampled on",
		Tags:        []string{"xas"},
	}, h.handleGrid)

	return h
}

// handlePredict handles the predict operation.
func (h *XASHandler) handlePredict(ctx context.Context, input *PredictInput) (*PredictOutput, error) {
	resp, err := h.service.Predict(ctx, &service.PredictRequest{
		ModelID:   input.Body.ModelID,
		Theory:    input.Body.Theory,
		Absorber:  input.Body.Absorber,
		Version:   input.Body.Version,
		Average:   input.Body.Average,
		Structure: input.Body.Structure.toStructure(),
	})
	if err != nil {
		return nil, toHumaError("failed to predict", err)
	}

	out := &PredictOutput{Body: PredictResponseDTO{
		ModelID:  resp.ModelID,
		Absorber: resp.Absorber,
		Energies: resp.Energies,
		Sites:    make([]SitePredictionDTO, 0, len(resp.Sites)),
		Cached:   resp.Cached,
	}}
	for _, idx := range resp.Sites.Indexes() {
		out.Body.Sites = append(out.Body.Sites, SitePredictionDTO{Index: idx, Spectrum: toArrayDTO(resp.Sites[idx])})
	}
	if resp.Average != nil {
		out.Body.Average = toArrayDTO(*resp.Average)
	}

	return out, nil
}

// handleListModels handles the list-models operation.
func (h *XASHandler) handleListModels(_ context.Context, _ *struct{}) (*ListModelsOutput, error) {
	infos := h.service.Models()

	out := &ListModelsOutput{Body: make([]ModelDTO, 0, len(infos))}
	for _, info := range infos {
		out.Body = append(out.Body, ModelDTO{
			ID:        info.ID,
			Name:      info.Name,
			Theory:    info.Selector.Theory,
			XASType:   info.Selector.XASType,
			Version:   info.Selector.Version,
			Directory: info.Selector.Directory,
			Absorber:  info.Absorber,
			Status:    string(info.Status),
			Permalink: info.Permalink,
			Tags:      info.Tags,
			LoadedAt:  info.LoadedAt,
			Error:     info.Error,
		})
	}

	return out, nil
}

// handleModelInfo handles the model-info operation.
func (h *XASHandler) handleModelInfo(_ context.Context, input *ModelInfoInput) (*ModelInfoOutput, error) {
	var sb strings.Builder
	if err := h.service.Info(input.ID, &sb); err != nil {
		return nil, toHumaError("failed to describe model", err)
	}

	out := &ModelInfoOutput{}
	out.Body.ID = input.ID
	out.Body.Card = sb.String()
	return out, nil
}

// handleGrid handles the get-grid operation.
func (h *XASHandler) handleGrid(_ context.Context, input *GridInput) (*GridOutput, error) {
	energies, err := h.service.Grid(input.Theory, input.Element)
	if err != nil {
		return nil, toHumaError("failed to get grid", err)
	}

	return &GridOutput{Body: GridResponseDTO{
		Theory:   input.Theory,
		Element:  input.Element,
		Energies: energies,
	}}, nil
}

func (d StructureDTO) toStructure() *structure.Structure {
	s := &structure.Structure{
		Lattice: (*structure.Lattice)(d.Lattice),
		Sites:   make([]structure.Site, len(d.Sites)),
	}
	for i, a := range d.Sites {
		s.Sites[i] = structure.Site{Species: a.Species, ABC: a.ABC}
		if a.XYZ != nil {
			s.Sites[i].XYZ = *a.XYZ
		}
	}
	return s
}

func toArrayDTO(a predictor.Array) *ArrayDTO {
	shape := a.Shape
	if shape == nil {
		shape = []int{}
	}
	return &ArrayDTO{Shape: shape, Data: a.Data}
}

// toHumaError maps sentinel errors to HTTP statuses.
func toHumaError(msg string, err error) error {
	switch {
	case errors.Is(err, model.ErrNotFound), errors.Is(err, predictor.ErrGridNotFound):
		return huma.Error404NotFound(msg, err)
	case errors.Is(err, model.ErrNotReady):
		return huma.Error503ServiceUnavailable(msg, err)
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, predictor.ErrUnexpectedInput):
		return huma.Error422UnprocessableEntity(msg, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return huma.Error408RequestTimeout(msg, err)
	default:
		return huma.Error500InternalServerError(msg, err)
	}
}
