package experiment

import (
	"fmt"

	"github.com/born-ml/born-lora/internal/classifier"
	"github.com/born-ml/born-lora/internal/lora"
	"github.com/born-ml/born-lora/internal/report"
)

// DescribeParameters prints the parameter breakdown of an untrained network
// before and after attaching adapters, without loading any data.
func (r *Runner) DescribeParameters() (before, after report.Parameters, err error) {
	net, err := classifier.New(r.cfg.Model, r.source(streamModel))
	if err != nil {
		return before, after, err
	}
	before = report.CountParameters(net)
	if err := before.Write(r.out); err != nil {
		return before, after, err
	}

	if _, err := net.AttachLoRA(lora.Config{Rank: r.cfg.LoRA.Rank, Alpha: r.cfg.LoRA.Alpha, Source: r.source(streamLoRA)}); err != nil {
		return before, after, err
	}
	after = report.CountParameters(net)
	if after.Original != before.Original {
		return before, after, fmt.Errorf("%w: %d != %d", ErrBaseResized, after.Original, before.Original)
	}
	return before, after, after.Write(r.out)
}
