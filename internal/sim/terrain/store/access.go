package store

import "sort"

func (s *ChunkStore) Has(k ChunkKey) bool {
	_, ok := s.Chunks[k]
	return ok
}

func (s *ChunkStore) Get(k ChunkKey) (*Chunk, bool) {
	ch, ok := s.Chunks[k]
	return ch, ok
}

func (s *ChunkStore) Len() int { return len(s.Chunks) }

// GetOrGenChunk returns the chunk at k, generating and inserting it if absent.
// The second result reports whether generation happened.
func (s *ChunkStore) GetOrGenChunk(k ChunkKey) (*Chunk, bool) {
	if ch, ok := s.Chunks[k]; ok {
		return ch, false
	}
	ch := s.GenerateChunk(k)
	s.Chunks[k] = ch
	return ch, true
}

// Retain drops every chunk whose key is not in keep and returns the dropped
// keys in (CX, CZ) order.
func (s *ChunkStore) Retain(keep map[ChunkKey]struct{}) []ChunkKey {
	var evicted []ChunkKey
	for k := range s.Chunks {
		if _, ok := keep[k]; !ok {
			evicted = append(evicted, k)
		}
	}
	for _, k := range evicted {
		delete(s.Chunks, k)
	}
	SortKeys(evicted)
	return evicted
}

func (s *ChunkStore) LoadedChunkKeys() []ChunkKey {
	keys := make([]ChunkKey, 0, len(s.Chunks))
	for k := range s.Chunks {
		keys = append(keys, k)
	}
	SortKeys(keys)
	return keys
}

func SortKeys(keys []ChunkKey) {
	sort.Slice(keys, func(i, j int) bool { return KeyLess(keys[i], keys[j]) })
}

// View is a borrowed, read-only window onto the store's chunks. It stays
// valid only until the store is next mutated.
type View struct {
	s    *ChunkStore
	keys []ChunkKey
}

func (s *ChunkStore) View() View {
	return View{s: s, keys: s.LoadedChunkKeys()}
}

func (v View) Len() int { return len(v.keys) }

func (v View) Keys() []ChunkKey {
	out := make([]ChunkKey, len(v.keys))
	copy(out, v.keys)
	return out
}

// Each calls fn for every chunk in (CX, CZ) order until fn returns false.
func (v View) Each(fn func(*Chunk) bool) {
	if v.s == nil {
		return
	}
	for _, k := range v.keys {
		ch, ok := v.s.Chunks[k]
		if !ok {
			continue
		}
		if !fn(ch) {
			return
		}
	}
}
