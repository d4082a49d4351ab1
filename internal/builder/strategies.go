package builder

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"diffusiond/internal/manager"
	"diffusiond/internal/registry"
	"diffusiond/pkg/types"
)

// strategy is one way to construct a pipeline from a model on disk.
type strategy interface {
	name() string
	build(mdl types.Model, tok *manager.CancellationToken) (*localPipeline, error)
}

// buildStrategies returns the fixed evaluation order: the single-file
// checkpoint when one exists, then the pretrained layout in decreasing order
// of preference (safetensors, raw bin, then the fp16 variants of both).
func buildStrategies(mdl types.Model, checkpoint string) []strategy {
	var strategies []strategy
	if checkpoint != "" {
		strategies = append(strategies, singleFileStrategy{checkpoint: checkpoint})
	}
	strategies = append(strategies,
		pretrainedStrategy{useSafetensors: true},
		pretrainedStrategy{useSafetensors: false},
		pretrainedStrategy{useSafetensors: true, variant: "fp16"},
		pretrainedStrategy{useSafetensors: false, variant: "fp16"},
	)
	return strategies
}

// findSingleFileCheckpoint returns the checkpoint path for single-file
// models, or the first *.safetensors directly inside a diffusers directory
// (some models ship a consolidated checkpoint next to the component dirs).
func findSingleFileCheckpoint(mdl types.Model) string {
	if mdl.Layout == registry.LayoutCheckpoint {
		return mdl.Path
	}
	matches, err := filepath.Glob(filepath.Join(mdl.Path, "*.safetensors"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	return matches[0]
}

// localPipeline is the resident resource: a weight inventory plus the
// derived configuration. Release drops the inventory so its memory can be
// reclaimed.
type localPipeline struct {
	cfg     types.PipelineConfig
	tensors map[string]tensorMeta
}

var _ manager.Pipeline = (*localPipeline)(nil)

func (p *localPipeline) Config() types.PipelineConfig { return p.cfg }

func (p *localPipeline) Release() error {
	p.tensors = nil
	return nil
}

// tensorMeta mirrors one entry of a safetensors header.
type tensorMeta struct {
	Dtype       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// singleFileStrategy builds from one consolidated *.safetensors checkpoint.
type singleFileStrategy struct {
	checkpoint string
}

func (s singleFileStrategy) name() string { return "single_file" }

func (s singleFileStrategy) build(mdl types.Model, tok *manager.CancellationToken) (*localPipeline, error) {
	if err := tok.CheckCancelled(); err != nil {
		return nil, err
	}
	tensors, size, err := parseSafetensorsHeader(s.checkpoint)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", s.checkpoint, err)
	}

	groups := make(map[string]int)
	for name := range tensors {
		group := name
		if i := strings.IndexByte(name, '.'); i > 0 {
			group = name[:i]
		}
		groups[group]++
	}
	components := make(map[string]string, len(groups))
	for group, n := range groups {
		components[group] = fmt.Sprintf("%d tensors", n)
	}

	return &localPipeline{
		cfg: types.PipelineConfig{
			ModelID:     mdl.ID,
			Class:       classifyCheckpoint(tensors),
			Components:  components,
			WeightBytes: size,
		},
		tensors: tensors,
	}, nil
}

// classifyCheckpoint guesses the pipeline class from well-known tensor name
// prefixes. SD3 uses joint transformer blocks, SDXL carries a second text
// conditioner; everything else is treated as the SD 1.x/2.x layout.
func classifyCheckpoint(tensors map[string]tensorMeta) string {
	for name := range tensors {
		if strings.Contains(name, "joint_blocks") {
			return "StableDiffusion3Pipeline"
		}
		if strings.HasPrefix(name, "conditioner.embedders.1") {
			return "StableDiffusionXLPipeline"
		}
	}
	return "StableDiffusionPipeline"
}

// maxHeaderBytes bounds the safetensors header read so a corrupt length
// prefix cannot trigger a huge allocation.
const maxHeaderBytes = 256 << 20

// parseSafetensorsHeader reads the safetensors header: an 8-byte
// little-endian length prefix followed by a JSON object mapping tensor names
// to dtype/shape/offsets. Returns the tensor inventory and the file size.
func parseSafetensorsHeader(path string) (map[string]tensorMeta, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}

	var prefix [8]byte
	if _, err := io.ReadFull(f, prefix[:]); err != nil {
		return nil, 0, fmt.Errorf("header prefix: %w", err)
	}
	headerLen := binary.LittleEndian.Uint64(prefix[:])
	if headerLen == 0 || headerLen > maxHeaderBytes || int64(headerLen) > fi.Size()-8 {
		return nil, 0, fmt.Errorf("implausible safetensors header length %d", headerLen)
	}

	raw := make([]byte, headerLen)
	if _, err := io.ReadFull(f, raw); err != nil {
		return nil, 0, fmt.Errorf("header body: %w", err)
	}
	var header map[string]json.RawMessage
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, 0, fmt.Errorf("header json: %w", err)
	}

	tensors := make(map[string]tensorMeta, len(header))
	for name, entry := range header {
		if name == "__metadata__" {
			continue
		}
		var meta tensorMeta
		if err := json.Unmarshal(entry, &meta); err != nil {
			return nil, 0, fmt.Errorf("tensor %s: %w", name, err)
		}
		tensors[name] = meta
	}
	if len(tensors) == 0 {
		return nil, 0, errors.New("checkpoint contains no tensors")
	}
	return tensors, fi.Size(), nil
}

// pretrainedStrategy builds from a diffusers layout directory driven by
// model_index.json.
type pretrainedStrategy struct {
	useSafetensors bool
	variant        string
}

func (s pretrainedStrategy) name() string {
	n := "pretrained_bin"
	if s.useSafetensors {
		n = "pretrained_safetensors"
	}
	if s.variant != "" {
		n += "_" + s.variant
	}
	return n
}

func (s pretrainedStrategy) build(mdl types.Model, tok *manager.CancellationToken) (*localPipeline, error) {
	if mdl.Layout != registry.LayoutDiffusers {
		return nil, fmt.Errorf("model %s is not a diffusers layout", mdl.ID)
	}
	index, err := readModelIndex(mdl.Path)
	if err != nil {
		return nil, err
	}

	components := make(map[string]string, len(index.components))
	var total int64
	weighted := 0
	for _, comp := range index.components {
		if err := tok.CheckCancelled(); err != nil {
			return nil, err
		}
		components[comp.name] = comp.class
		dir := filepath.Join(mdl.Path, comp.name)
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("component %s: %w", comp.name, err)
		}
		size, found, err := s.componentWeights(dir)
		if err != nil {
			return nil, fmt.Errorf("component %s: %w", comp.name, err)
		}
		if found {
			weighted++
			total += size
		}
	}
	// Schedulers and tokenizers carry no weights; a pipeline with none at
	// all cannot be loaded with these preferences.
	if weighted == 0 {
		return nil, fmt.Errorf("no %s weights found in %s", s.name(), mdl.Path)
	}

	return &localPipeline{
		cfg: types.PipelineConfig{
			ModelID:     mdl.ID,
			Class:       index.class,
			Variant:     s.variant,
			Components:  components,
			WeightBytes: total,
		},
		tensors: map[string]tensorMeta{},
	}, nil
}

// componentWeights sums the weight files in a component directory matching
// this strategy's format and variant preferences.
func (s pretrainedStrategy) componentWeights(dir string) (int64, bool, error) {
	ext := ".bin"
	if s.useSafetensors {
		ext = ".safetensors"
	}
	suffix := ext
	if s.variant != "" {
		suffix = "." + s.variant + ext
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, false, err
	}
	var total int64
	found := false
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		// A plain suffix also matches variant files; skip those when no
		// variant was requested.
		if s.variant == "" && strings.HasSuffix(e.Name(), ".fp16"+ext) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return 0, false, err
		}
		total += fi.Size()
		found = true
	}
	return total, found, nil
}

// modelIndex is the parsed model_index.json.
type modelIndex struct {
	class      string
	components []modelComponent
}

type modelComponent struct {
	name  string
	class string
}

// readModelIndex parses model_index.json: "_class_name" plus component
// entries of the form "unet": ["diffusers", "UNet2DConditionModel"]. Null
// components and underscore-prefixed metadata are skipped.
func readModelIndex(dir string) (modelIndex, error) {
	var idx modelIndex
	b, err := os.ReadFile(filepath.Join(dir, "model_index.json"))
	if err != nil {
		return idx, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return idx, fmt.Errorf("model_index.json: %w", err)
	}
	if cls, ok := raw["_class_name"]; ok {
		if err := json.Unmarshal(cls, &idx.class); err != nil {
			return idx, fmt.Errorf("_class_name: %w", err)
		}
	}
	if idx.class == "" {
		return idx, errors.New("model_index.json missing _class_name")
	}
	for name, entry := range raw {
		if strings.HasPrefix(name, "_") {
			continue
		}
		var pair []string
		if err := json.Unmarshal(entry, &pair); err != nil || len(pair) != 2 {
			continue
		}
		idx.components = append(idx.components, modelComponent{name: name, class: pair[1]})
	}
	sort.Slice(idx.components, func(i, j int) bool { return idx.components[i].name < idx.components[j].name })
	if len(idx.components) == 0 {
		return idx, errors.New("model_index.json lists no components")
	}
	return idx, nil
}
