package net

import (
	"fmt"
	"sort"

	"github.com/born-ml/brew/internal/config"
)

// blobVersion identifies one definition of a named blob: the index of the
// layer that produced it, or -1 for a net input. In-place layers create a
// new version under the same name.
type blobVersion struct {
	name     string
	producer int
}

type consumer struct {
	layer, bottom int
}

// weightedTop is a produced top carrying a non-zero loss weight.
type weightedTop struct {
	top    int
	weight float64
}

// insertSplits returns a copy of layers where every blob version read by
// more than one layer is routed through a Split layer, one top per reader.
// A top with a non-zero loss weight counts as one more reader: the weight
// moves from the producer onto an extra Split top, so the loss gradient
// adds to the readers' gradients instead of being overwritten by them.
// lossWeight reports the effective weight of top t of a layer.
func insertSplits(inputs []config.InputSpec, layers []config.LayerParameter,
	lossWeight func(lp config.LayerParameter, t int) float64) []config.LayerParameter {
	current := make(map[string]int)
	for _, in := range inputs {
		current[in.Name] = -1
	}
	readers := make(map[blobVersion][]consumer)
	weighted := make(map[blobVersion]weightedTop)
	var order []blobVersion
	for j, lp := range layers {
		for k, b := range lp.Bottom {
			p, ok := current[b]
			if !ok {
				continue // reported by the net builder
			}
			v := blobVersion{name: b, producer: p}
			if _, seen := readers[v]; !seen {
				order = append(order, v)
			}
			readers[v] = append(readers[v], consumer{layer: j, bottom: k})
		}
		for t, name := range lp.Top {
			current[name] = j
			if w := lossWeight(lp, t); w != 0 {
				weighted[blobVersion{name: name, producer: j}] = weightedTop{top: t, weight: w}
			}
		}
	}

	rename := make(map[consumer]string)
	splits := make(map[int][]blobVersion)
	// moved holds, per producing layer, the tops whose loss weight now
	// sits on a Split.
	moved := make(map[int]map[int]bool)
	for _, v := range order {
		cs := readers[v]
		_, lossy := weighted[v]
		if len(cs) < 2 && !lossy {
			continue
		}
		for i, c := range cs {
			rename[c] = splitTopName(v, i)
		}
		splits[v.producer] = append(splits[v.producer], v)
		if lossy {
			if moved[v.producer] == nil {
				moved[v.producer] = make(map[int]bool)
			}
			moved[v.producer][weighted[v].top] = true
		}
	}
	if len(splits) == 0 {
		return layers
	}

	// alias maps a blob name to the name it is stored under after an
	// in-place reader was moved onto a split output.
	alias := make(map[string]string)
	resolve := func(name string) string {
		if a, ok := alias[name]; ok {
			return a
		}
		return name
	}
	emit := func(out []config.LayerParameter, producer int) []config.LayerParameter {
		vs := splits[producer]
		sort.SliceStable(vs, func(a, b int) bool { return vs[a].name < vs[b].name })
		for _, v := range vs {
			sp := config.DefaultLayerParameter()
			sp.Name = splitLayerName(v)
			sp.Type = "Split"
			sp.Bottom = []string{resolve(v.name)}
			n := len(readers[v])
			for i := 0; i < n; i++ {
				sp.Top = append(sp.Top, splitTopName(v, i))
			}
			if wt, ok := weighted[v]; ok {
				sp.Top = append(sp.Top, splitTopName(v, n))
				sp.LossWeight = make([]float64, n+1)
				sp.LossWeight[n] = wt.weight
			}
			out = append(out, sp)
		}
		return out
	}

	out := emit(make([]config.LayerParameter, 0, len(layers)+len(splits)), -1)
	for j, lp := range layers {
		bottoms := make([]string, len(lp.Bottom))
		for k, b := range lp.Bottom {
			if r, ok := rename[consumer{layer: j, bottom: k}]; ok {
				bottoms[k] = r
			} else {
				bottoms[k] = resolve(b)
			}
		}
		tops := make([]string, len(lp.Top))
		for i, t := range lp.Top {
			tops[i] = t
			delete(alias, t)
			for k, b := range lp.Bottom {
				if b == t && bottoms[k] != t {
					tops[i] = bottoms[k]
					alias[t] = bottoms[k]
					break
				}
			}
		}
		if m := moved[j]; m != nil {
			weights := make([]float64, len(lp.Top))
			for t := range weights {
				if !m[t] {
					weights[t] = lossWeight(lp, t)
				}
			}
			lp.LossWeight = weights
		}
		lp.Bottom, lp.Top = bottoms, tops
		out = append(out, lp)
		out = emit(out, j)
	}
	return out
}

func splitLayerName(v blobVersion) string {
	return fmt.Sprintf("%s_%s_split", v.name, producerName(v.producer))
}

func splitTopName(v blobVersion, i int) string {
	return fmt.Sprintf("%s_%s_split_%d", v.name, producerName(v.producer), i)
}

func producerName(p int) string {
	if p < 0 {
		return "input"
	}
	return fmt.Sprint(p)
}
