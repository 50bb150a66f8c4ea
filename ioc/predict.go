package ioc

import (
	"fmt"
	"sort"

	"github.com/KNICEX/trading-automaton/internal/config"
	"github.com/KNICEX/trading-automaton/internal/service/llm"
	"github.com/KNICEX/trading-automaton/internal/service/predict"
)

const (
	PredictorMeanReversion = "mean_reversion"
	PredictorSMA           = "sma"
	PredictorLLM           = "llm"
	PredictorEnsemble      = "ensemble"
)

// InitPredictor 返回配置的预测器和 reversion 检查器使用的回归带.
// newLLM 只在需要大模型时调用
func InitPredictor(cfg config.PredictorConfig, source predict.KlineSource, newLLM func() llm.Service) (predict.Predictor, predict.BandProvider, error) {
	band := predict.NewMeanReversion(source, cfg.MeanReversion.Multiplier, cfg.MeanReversion.Period)

	single := func(kind string) (predict.Predictor, error) {
		switch kind {
		case PredictorMeanReversion:
			return band, nil
		case PredictorSMA:
			return predict.NewSMACross(source, cfg.SMA.Short, cfg.SMA.Long)
		case PredictorLLM:
			return predict.NewLLM(source, newLLM()), nil
		}
		return nil, fmt.Errorf("unknown predictor %q", kind)
	}

	if cfg.Kind != PredictorEnsemble {
		p, err := single(cfg.Kind)
		return p, band, err
	}

	names := make([]string, 0, len(cfg.Ensemble.Weights))
	for name := range cfg.Ensemble.Weights {
		names = append(names, name)
	}
	sort.Strings(names)
	members := make([]predict.Member, 0, len(names))
	for _, name := range names {
		p, err := single(name)
		if err != nil {
			return nil, nil, fmt.Errorf("ensemble member: %w", err)
		}
		members = append(members, predict.Member{Name: name, Predictor: p, Weight: cfg.Ensemble.Weights[name]})
	}
	e, err := predict.NewEnsemble(cfg.Ensemble.Threshold, members...)
	if err != nil {
		return nil, nil, err
	}
	return e, band, nil
}
