// Package cart holds the shopping cart value and its durable storage.
//
// A Cart is an immutable value: every mutation returns a new Cart and leaves
// the receiver untouched, so callers decide when to persist through a Store.
package cart

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"tourmaline.app/pkg/pricing"
)

// ErrIndexOutOfRange is returned when a line position does not exist
var ErrIndexOutOfRange = errors.New("cart: index out of range")

// Product is what a catalogue card hands to Add
type Product struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Image string          `json:"image,omitempty"`
	Color string          `json:"color,omitempty"`
	Size  string          `json:"size,omitempty"`
}

// Item is one cart line. Quantity is always at least 1.
type Item struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	Image    string          `json:"image,omitempty"`
	Color    string          `json:"color,omitempty"`
	Size     string          `json:"size,omitempty"`
}

// Notice is a transient confirmation shown after a mutation
type Notice struct {
	Message string
}

// Cart is an ordered list of line items
type Cart struct {
	items []Item
}

// New builds a cart from items, dropping lines without an id and clamping
// quantities below 1 up to 1.
func New(items ...Item) Cart {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if strings.TrimSpace(it.ID) == "" {
			continue
		}
		if it.Quantity < 1 {
			it.Quantity = 1
		}
		out = append(out, it)
	}
	return Cart{items: out}
}

func (c Cart) clone() []Item {
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

// Add inserts p with quantity 1, or increments the quantity of the line
// already holding p.ID.
func (c Cart) Add(p Product) (Cart, Notice) {
	items := c.clone()
	found := false
	for i := range items {
		if items[i].ID == p.ID {
			items[i].Quantity++
			found = true
			break
		}
	}
	if !found {
		items = append(items, Item{
			ID:       p.ID,
			Name:     p.Name,
			Price:    p.Price,
			Quantity: 1,
			Image:    p.Image,
			Color:    p.Color,
			Size:     p.Size,
		})
	}
	return Cart{items: items}, Notice{Message: fmt.Sprintf("%s added to cart!", p.Name)}
}

// Remove deletes the line at index
func (c Cart) Remove(index int) (Cart, error) {
	if index < 0 || index >= len(c.items) {
		return c, fmt.Errorf("remove %d of %d: %w", index, len(c.items), ErrIndexOutOfRange)
	}
	items := make([]Item, 0, len(c.items)-1)
	items = append(items, c.items[:index]...)
	items = append(items, c.items[index+1:]...)
	return Cart{items: items}, nil
}

// SetQuantity changes the quantity at index. A quantity below 1 removes the line.
func (c Cart) SetQuantity(index, qty int) (Cart, error) {
	if index < 0 || index >= len(c.items) {
		return c, fmt.Errorf("set quantity %d of %d: %w", index, len(c.items), ErrIndexOutOfRange)
	}
	if qty < 1 {
		return c.Remove(index)
	}
	items := c.clone()
	items[index].Quantity = qty
	return Cart{items: items}, nil
}

// Clear returns an empty cart
func (c Cart) Clear() Cart {
	return Cart{}
}

// Items returns a copy of the lines
func (c Cart) Items() []Item {
	return c.clone()
}

// Len is the number of distinct lines
func (c Cart) Len() int { return len(c.items) }

// IsEmpty reports whether the cart has no lines
func (c Cart) IsEmpty() bool { return len(c.items) == 0 }

// Count is the total quantity across lines, as shown on the cart badge
func (c Cart) Count() int {
	n := 0
	for _, it := range c.items {
		n += it.Quantity
	}
	return n
}

// Lines adapts the cart for pricing
func (c Cart) Lines() []pricing.Line {
	out := make([]pricing.Line, 0, len(c.items))
	for _, it := range c.items {
		out = append(out, pricing.Line{
			ProductID: it.ID,
			Name:      it.Name,
			UnitPrice: it.Price,
			Quantity:  it.Quantity,
		})
	}
	return out
}

// MarshalJSON encodes the cart as a plain array of items
func (c Cart) MarshalJSON() ([]byte, error) {
	if c.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.items)
}

// UnmarshalJSON decodes an array of items, normalising it like New
func (c *Cart) UnmarshalJSON(data []byte) error {
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*c = New(items...)
	return nil
}
