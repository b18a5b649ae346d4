package service

import "math/rand/v2"

// Shuffler 生成均匀随机排列
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

// FisherYates 基于 math/rand/v2 的 Fisher–Yates 洗牌，每次创建作答时调用
type FisherYates struct {
	rng *rand.Rand
}

// NewFisherYates rng 为空时使用全局随机源
func NewFisherYates(rng *rand.Rand) *FisherYates {
	return &FisherYates{rng: rng}
}

func (f *FisherYates) Shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		var j int
		if f.rng != nil {
			j = f.rng.IntN(i + 1)
		} else {
			j = rand.IntN(i + 1)
		}
		swap(i, j)
	}
}

func shuffleSlice[T any](s Shuffler, items []T) {
	s.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
}
