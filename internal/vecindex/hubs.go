package vecindex

import "github.com/x448/float16"

// hubCache holds the permanently retained embeddings of hub nodes.
// In compact mode vectors are stored as float16 words, halving memory at
// the cost of ~3 decimal digits of precision; Get always returns float32.
type hubCache struct {
	compact bool
	f32     map[int64][]float32
	f16     map[int64][]uint16
}

func newHubCache(compact bool) *hubCache {
	c := &hubCache{compact: compact}
	if compact {
		c.f16 = make(map[int64][]uint16)
	} else {
		c.f32 = make(map[int64][]float32)
	}
	return c
}

// Get returns the cached embedding for id, decoding compact entries
func (c *hubCache) Get(id int64) ([]float32, bool) {
	if c.compact {
		enc, ok := c.f16[id]
		if !ok {
			return nil, false
		}
		vec := make([]float32, len(enc))
		for i, w := range enc {
			vec[i] = float16.Frombits(w).Float32()
		}
		return vec, true
	}

	vec, ok := c.f32[id]
	return vec, ok
}

// Set stores an embedding; the caller must not mutate vec afterwards
func (c *hubCache) Set(id int64, vec []float32) {
	if c.compact {
		enc := make([]uint16, len(vec))
		for i, x := range vec {
			enc[i] = float16.Fromfloat32(x).Bits()
		}
		c.f16[id] = enc
		return
	}
	c.f32[id] = vec
}

// Delete evicts an entry
func (c *hubCache) Delete(id int64) {
	if c.compact {
		delete(c.f16, id)
		return
	}
	delete(c.f32, id)
}

// Has reports whether id is cached
func (c *hubCache) Has(id int64) bool {
	if c.compact {
		_, ok := c.f16[id]
		return ok
	}
	_, ok := c.f32[id]
	return ok
}

// Len returns the number of cached embeddings
func (c *hubCache) Len() int {
	if c.compact {
		return len(c.f16)
	}
	return len(c.f32)
}
