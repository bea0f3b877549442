package core

import (
	"sync"

	. "github.com/stevegt/goadapt"
	"github.com/tiktoken-go/tokenizer"

	"loremaster/client"
)

var (
	tokOnce  sync.Once
	tokCodec tokenizer.Codec
	tokErr   error
)

// initTokenizer lazily initializes the shared tokenizer codec.
func initTokenizer() (tokenizer.Codec, error) {
	tokOnce.Do(func() {
		tokCodec, tokErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return tokCodec, tokErr
}

// TokenCount returns the approximate token count of text.  The
// cl100k_base vocabulary is close enough across providers for
// budgeting purposes.
func TokenCount(text string) (count int, err error) {
	defer Return(&err)
	codec, err := initTokenizer()
	Ck(err)
	_, tokens, err := codec.Encode(text)
	Ck(err)
	count = len(tokens)
	return
}

// TrimToBudget drops the oldest history until the outbound context
// fits within half the model's token limit, leaving room for the
// response.  The system message (first, if any) and the final user
// message are never dropped.  Messages are dropped whole, oldest
// first; ordering of the survivors is unchanged.
func TrimToBudget(msgs []client.Message, tokenLimit int) (out []client.Message, dropped int, err error) {
	defer Return(&err)
	budget := tokenLimit / 2
	if budget <= 0 || len(msgs) == 0 {
		out = msgs
		return
	}

	counts := make([]int, len(msgs))
	total := 0
	for i, m := range msgs {
		counts[i], err = TokenCount(m.Content)
		Ck(err)
		total += counts[i]
	}
	if total <= budget {
		out = msgs
		return
	}

	// protected region: leading system message and trailing user
	// message survive no matter what
	start := 0
	if msgs[0].Role == client.RoleSystem {
		start = 1
	}
	end := len(msgs) - 1

	keep := make([]bool, len(msgs))
	for i := range keep {
		keep[i] = true
	}
	for i := start; i < end && total > budget; i++ {
		keep[i] = false
		total -= counts[i]
		dropped++
	}

	for i, m := range msgs {
		if keep[i] {
			out = append(out, m)
		}
	}
	return
}
