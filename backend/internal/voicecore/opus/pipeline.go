package opus

import "sync"

// Pipeline owns the single outbound Encoder and a Decoder per observed
// SSRC.
type Pipeline struct {
	encoder      Encoder
	newDecoder   func() (Decoder, error)
	mu           sync.Mutex
	decoders     map[uint32]Decoder
	transmitting bool
}

// NewPipeline builds a Pipeline around a shared Encoder and a decoder
// factory invoked lazily the first time a new SSRC is observed.
func NewPipeline(encoder Encoder, newDecoder func() (Decoder, error)) *Pipeline {
	return &Pipeline{
		encoder:    encoder,
		newDecoder: newDecoder,
		decoders:   make(map[uint32]Decoder),
	}
}

// EncodeFrame validates and encodes one PCM frame for transmission,
// and marks the pipeline as actively transmitting so Stop() knows to
// flush silence frames.
func (p *Pipeline) EncodeFrame(pcm []int16) ([]byte, error) {
	out, err := p.encoder.Encode(pcm)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.transmitting = true
	p.mu.Unlock()
	return out, nil
}

// Stop returns the silence burst to transmit before the socket goes
// idle, and clears the transmitting flag. If transmission was
// never active, it still returns the burst: the contract is "at least
// five silence frames are transmitted when audio transmission stops",
// unconditionally on stop.
func (p *Pipeline) Stop() [][]byte {
	p.mu.Lock()
	p.transmitting = false
	p.mu.Unlock()
	return SilenceBurst()
}

// IsTransmitting reports whether the pipeline has encoded a non-silence
// frame since the last Stop.
func (p *Pipeline) IsTransmitting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transmitting
}

// DecoderFor returns the Decoder for a given SSRC, creating one lazily
// on first observation.
func (p *Pipeline) DecoderFor(ssrc uint32) (Decoder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if d, ok := p.decoders[ssrc]; ok {
		return d, nil
	}
	d, err := p.newDecoder()
	if err != nil {
		return nil, err
	}
	p.decoders[ssrc] = d
	return d, nil
}

// DropDecoder discards the decoder for an SSRC, e.g. when a user
// leaves or a ClientDisconnect is received.
func (p *Pipeline) DropDecoder(ssrc uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.decoders, ssrc)
}
