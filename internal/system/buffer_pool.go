package system

import (
	"image"
	"image/draw"
	"sync"
)

// ImagePool переиспользует буферы image.RGBA одинакового размера, чтобы
// покадровый рендер не нагружал GC временными слоями.
type ImagePool struct {
	pools map[image.Rectangle]*sync.Pool
	mu    sync.RWMutex
}

// NewImagePool returns an empty pool.
func NewImagePool() *ImagePool {
	return &ImagePool{pools: make(map[image.Rectangle]*sync.Pool)}
}

// Get returns a buffer with exactly rect bounds. Its contents are whatever
// the previous user left; call GetClear for a transparent one.
func (p *ImagePool) Get(rect image.Rectangle) *image.RGBA {
	p.mu.RLock()
	pool, exists := p.pools[rect]
	p.mu.RUnlock()

	if !exists {
		p.mu.Lock()
		// Double check
		pool, exists = p.pools[rect]
		if !exists {
			pool = &sync.Pool{
				New: func() any {
					return image.NewRGBA(rect)
				},
			}
			p.pools[rect] = pool
		}
		p.mu.Unlock()
	}

	return pool.Get().(*image.RGBA)
}

// GetClear is Get followed by a fill with transparent black.
func (p *ImagePool) GetClear(rect image.Rectangle) *image.RGBA {
	img := p.Get(rect)
	draw.Draw(img, img.Rect, image.Transparent, image.Point{}, draw.Src)
	return img
}

func (p *ImagePool) Put(img *image.RGBA) {
	if img == nil {
		return
	}
	p.mu.RLock()
	pool, exists := p.pools[img.Rect]
	p.mu.RUnlock()

	if exists {
		pool.Put(img)
	}
}
