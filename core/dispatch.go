package core

import (
	"context"
	"strings"
	"time"

	. "github.com/stevegt/goadapt"

	"loremaster/client"
)

// turnPhase tracks where a turn is in its lifecycle.
type turnPhase int

const (
	phaseBuilding turnPhase = iota
	phaseStreaming
	phaseFinalizing
	phaseComplete
	phaseFailed
)

func (p turnPhase) String() string {
	switch p {
	case phaseBuilding:
		return "building"
	case phaseStreaming:
		return "streaming"
	case phaseFinalizing:
		return "finalizing"
	case phaseComplete:
		return "complete"
	default:
		return "failed"
	}
}

// Attempt records one candidate tried during a turn.
type Attempt struct {
	ProviderID string
	ModelID    string
	Err        *client.ErrorInfo
}

// DispatchExhausted is returned when every ranked candidate failed.
// It carries the per-candidate errors so the failure is diagnosable
// without log spelunking.
type DispatchExhausted struct {
	Attempts []Attempt
}

func (e *DispatchExhausted) Error() string {
	var sb strings.Builder
	sb.WriteString("all providers failed:")
	for _, a := range e.Attempts {
		sb.WriteString(Spf(" [%s/%s: %s]", a.ProviderID, a.ModelID, a.Err.Message))
	}
	return sb.String()
}

// Dispatcher drives chat turns: it builds the outbound context,
// streams from the best candidate, falls back when safe, and persists
// the finished turn.
type Dispatcher struct {
	reg   *Registry
	store *Store
}

// NewDispatcher wires a dispatcher to a registry and store.
func NewDispatcher(reg *Registry, store *Store) *Dispatcher {
	return &Dispatcher{reg: reg, store: store}
}

// SubmitTurn runs one chat turn against a conversation.  Chunks are
// forwarded to the returned channel exactly as the winning provider
// emits them; the channel closes after the terminal chunk (Final or
// Err).  Abandoning the channel or cancelling ctx releases the
// provider connection promptly.
//
// Fallback rules: only retriable errors trigger fallback, and only
// before any chunk has been forwarded.  Once partial output has
// reached the caller, a failure ends the turn with the partial text
// preserved -- restarting would duplicate visible output.  Auth and
// malformed_response errors never trigger fallback at all.
func (d *Dispatcher) SubmitTurn(ctx context.Context, convID string, persona *Persona, userText, providerID, modelID string) (<-chan client.StreamChunk, error) {
	// Building
	Debug("turn %s: phase=%s", convID, phaseBuilding)
	if strings.TrimSpace(userText) == "" {
		return nil, validationf("empty user message")
	}

	conv, err := d.store.Load(convID)
	if err != nil {
		return nil, err
	}

	// a persona override is an explicit user action; it replaces the
	// conversation's snapshot before the turn is built
	if persona != nil && *persona != conv.Persona {
		if err := persona.Validate(); err != nil {
			return nil, err
		}
		if err := d.store.SetPersona(convID, *persona); err != nil {
			return nil, err
		}
		conv.Persona = *persona
	}

	sysmsg, _, err := conv.Persona.Compile()
	if err != nil {
		return nil, err
	}

	if providerID == "" {
		configured := d.reg.ListConfigured()
		if len(configured) == 0 {
			return nil, validationf("no providers configured")
		}
		providerID = configured[0].ID
	}

	model, err := d.reg.Models().FindModel(modelID, providerID)
	if err != nil {
		return nil, validationf("%v", err)
	}

	// outbound context: fresh system prompt, history, new user message
	outbound := []client.Message{{Role: client.RoleSystem, Content: sysmsg}}
	for _, m := range conv.Messages {
		if m.Role == client.RoleSystem {
			continue
		}
		outbound = append(outbound, client.Message{Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt})
	}
	outbound = append(outbound, client.Message{Role: client.RoleUser, Content: userText})

	outbound, droppedCount, err := TrimToBudget(outbound, model.TokenLimit)
	if err != nil {
		return nil, err
	}
	if droppedCount > 0 {
		Debug("turn %s: dropped %d old messages to fit %d-token model", convID, droppedCount, model.TokenLimit)
	}

	out := make(chan client.StreamChunk)
	go d.runTurn(ctx, out, conv, sysmsg, outbound, userText, providerID, model.Name)
	return out, nil
}

// runTurn walks the candidate chain and forwards the winning stream.
func (d *Dispatcher) runTurn(ctx context.Context, out chan<- client.StreamChunk, conv *Conversation, sysmsg string, outbound []client.Message, userText, providerID, modelID string) {
	defer close(out)

	chain := d.reg.RankCandidates(providerID, modelID)
	var attempts []Attempt
	Debug("turn %s: phase=%s candidates=%d", conv.ID, phaseStreaming, len(chain))

	for i, cand := range chain {
		desc, known := d.reg.Descriptor(cand.ProviderID)
		if !known || !desc.Configured {
			// an unconfigured provider is never dialed; an explicit
			// request for one ends the turn without consulting the
			// fallback chain
			attempts = append(attempts, Attempt{
				ProviderID: cand.ProviderID,
				ModelID:    cand.ModelID,
				Err:        client.NewError(client.ErrBackendUnavailable, "provider %q is not configured", cand.ProviderID),
			})
			d.failTurn(ctx, out, conv, sysmsg, userText, "", "", "", &DispatchExhausted{Attempts: attempts})
			return
		}

		streamer, ok := d.reg.Streamer(cand.ProviderID)
		if !ok {
			attempts = append(attempts, Attempt{
				ProviderID: cand.ProviderID,
				ModelID:    cand.ModelID,
				Err:        client.NewError(client.ErrBackendUnavailable, "no adapter for provider %q", cand.ProviderID),
			})
			continue
		}

		partial, errInfo, forwarded, cancelled := d.streamOne(ctx, out, streamer, cand, outbound)

		if cancelled {
			// caller walked away; keep whatever arrived.  says nothing
			// about provider health, so no report
			Debug("turn %s: cancelled after %d bytes", conv.ID, len(partial))
			d.persistTurn(conv, sysmsg, userText, partial, cand.ProviderID, cand.ModelID, true)
			return
		}
		d.reg.ReportResult(cand.ProviderID, errInfo)

		if errInfo == nil {
			// Finalizing
			Debug("turn %s: phase=%s provider=%s", conv.ID, phaseFinalizing, cand.ProviderID)
			if err := d.persistTurn(conv, sysmsg, userText, partial, cand.ProviderID, cand.ModelID, false); err != nil {
				d.emit(ctx, out, client.StreamChunk{Err: client.NewError(client.ErrMalformedResponse, "persisting turn: %v", err)})
				return
			}
			d.emit(ctx, out, client.StreamChunk{Final: true})
			Debug("turn %s: phase=%s", conv.ID, phaseComplete)
			return
		}

		attempts = append(attempts, Attempt{ProviderID: cand.ProviderID, ModelID: cand.ModelID, Err: errInfo})

		if !errInfo.Retriable {
			// retrying an identically-misconfigured provider cannot
			// succeed
			d.failTurn(ctx, out, conv, sysmsg, userText, partial, cand.ProviderID, cand.ModelID, errInfo)
			return
		}
		if forwarded {
			// partial output already reached the caller; a silent
			// restart would duplicate visible text
			annotated := &client.ErrorInfo{
				Kind:      errInfo.Kind,
				Message:   Spf("stream interrupted after partial output: %s", errInfo.Message),
				Retriable: false,
			}
			d.failTurn(ctx, out, conv, sysmsg, userText, partial, cand.ProviderID, cand.ModelID, annotated)
			return
		}
		Debug("turn %s: candidate %d/%d failed pre-stream (%s), trying next", conv.ID, i+1, len(chain), errInfo.Kind)
	}

	d.failTurn(ctx, out, conv, sysmsg, userText, "", "", "", &DispatchExhausted{Attempts: attempts})
}

// streamOne consumes a single adapter stream, forwarding deltas.
func (d *Dispatcher) streamOne(ctx context.Context, out chan<- client.StreamChunk, streamer client.ChatStreamer, cand Candidate, outbound []client.Message) (partial string, errInfo *client.ErrorInfo, forwarded, cancelled bool) {
	// each attempt gets its own cancel so an abandoned stream releases
	// its connection even if the parent ctx lives on
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// the store and ux speak catalog names; the wire speaks the
	// provider's own model name
	upstream := cand.ModelID
	if m, merr := d.reg.Models().FindModel(cand.ModelID, cand.ProviderID); merr == nil {
		upstream = m.UpstreamName
	}

	ch, err := streamer.StreamChat(sctx, upstream, outbound, client.Options{})
	if err != nil {
		errInfo = asErrorInfo(cand.ProviderID, err)
		return
	}

	var sb strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			errInfo = chunk.Err
			break
		}
		if chunk.Final {
			break
		}
		sb.WriteString(chunk.Delta)
		select {
		case out <- chunk:
			forwarded = true
		case <-ctx.Done():
			cancelled = true
			partial = sb.String()
			return
		}
	}
	partial = sb.String()
	return
}

// failTurn persists whatever the turn produced and emits the terminal
// error chunk.
func (d *Dispatcher) failTurn(ctx context.Context, out chan<- client.StreamChunk, conv *Conversation, sysmsg, userText, partial, providerID, modelID string, cause error) {
	Debug("turn %s: phase=%s: %v", conv.ID, phaseFailed, cause)
	if err := d.persistTurn(conv, sysmsg, userText, partial, providerID, modelID, true); err != nil {
		Debug("turn %s: persisting failed turn: %v", conv.ID, err)
	}
	errInfo, ok := cause.(*client.ErrorInfo)
	if !ok {
		kind := client.ErrBackendUnavailable
		if ex, isEx := cause.(*DispatchExhausted); isEx && len(ex.Attempts) > 0 {
			kind = ex.Attempts[len(ex.Attempts)-1].Err.Kind
		}
		errInfo = &client.ErrorInfo{Kind: kind, Message: cause.Error(), Retriable: false}
	}
	d.emit(ctx, out, client.StreamChunk{Err: errInfo})
}

// persistTurn appends the turn's messages: the system prompt row on
// the first turn (or a replacement when the persona changed), the
// user message, and the assistant text if any was produced.
func (d *Dispatcher) persistTurn(conv *Conversation, sysmsg, userText, assistantText, providerID, modelID string, incomplete bool) (err error) {
	defer Return(&err)
	now := time.Now().UTC()

	if len(conv.Messages) == 0 {
		err = d.store.Append(conv.ID, StoredMessage{Role: client.RoleSystem, Content: sysmsg, CreatedAt: now})
		Ck(err)
	} else if conv.Messages[0].Role == client.RoleSystem && conv.Messages[0].Content != sysmsg {
		err = d.store.ReplaceFirstSystem(conv.ID, sysmsg)
		Ck(err)
	}

	err = d.store.Append(conv.ID, StoredMessage{Role: client.RoleUser, Content: userText, CreatedAt: now})
	Ck(err)

	if assistantText != "" {
		err = d.store.Append(conv.ID, StoredMessage{
			Role:       client.RoleAssistant,
			Content:    assistantText,
			CreatedAt:  time.Now().UTC(),
			ProviderID: providerID,
			ModelID:    modelID,
			Incomplete: incomplete,
		})
		Ck(err)
	}
	return
}

// emit sends a chunk unless the caller has gone away.
func (d *Dispatcher) emit(ctx context.Context, out chan<- client.StreamChunk, chunk client.StreamChunk) {
	select {
	case out <- chunk:
	case <-ctx.Done():
	}
}

// asErrorInfo coerces an adapter error into an ErrorInfo.
func asErrorInfo(providerID string, err error) *client.ErrorInfo {
	if ei, ok := err.(*client.ErrorInfo); ok {
		return ei
	}
	return client.ClassifyTransport(providerID, err)
}
