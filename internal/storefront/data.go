package storefront

import "fmt"

// BaseURL 店面默认地址
const BaseURL = "http://localhost:8080"

// Product 商品列表项
type Product struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
	ImageURL    string `json:"image_url"`
}

// Spec 商品规格
type Spec struct {
	Key   string
	Label string
	Value any
}

// Display 规格展示文本，布尔值显示为 Yes/No
func (s Spec) Display() string {
	if b, ok := s.Value.(bool); ok {
		if b {
			return "Yes"
		}
		return "No"
	}
	return fmt.Sprint(s.Value)
}

// ProductDetail 商品详情
type ProductDetail struct {
	ID          string
	Name        string
	Description string
	Price       float64
	Currency    string
	Images      []string
	Specs       []Spec
}

// PriceText 价格展示文本
func (d ProductDetail) PriceText() string { return fmt.Sprintf("$%.2f", d.Price) }

// JSON 详情接口响应体
func (d ProductDetail) JSON() map[string]any {
	specs := make(map[string]any, len(d.Specs))
	for _, s := range d.Specs {
		specs[s.Key] = s.Value
	}
	return map[string]any{
		"id":             d.ID,
		"name":           d.Name,
		"description":    d.Description,
		"price":          d.Price,
		"currency":       d.Currency,
		"images":         d.Images,
		"specifications": specs,
	}
}

// CartItem 购物车条目
type CartItem struct {
	ID        string  `json:"id"`
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// OrderItem 订单行
type OrderItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Order 订单
type Order struct {
	ID     string      `json:"id"`
	Status string      `json:"status"`
	Items  []OrderItem `json:"items"`
	Total  float64     `json:"total"`
}

// Products 商品列表
func Products() []Product {
	return []Product{
		{
			ID:          "p1",
			Name:        "Luxury Stroller Model A",
			Description: "Elegant and comfortable baby stroller with premium materials.",
			Price:       "$1299.99",
			ImageURL:    "/images/stroller_a.jpg",
		},
		{
			ID:          "p2",
			Name:        "Luxury Stroller Model B",
			Description: "Stylish stroller with advanced suspension for smooth rides.",
			Price:       "$1599.99",
			ImageURL:    "/images/stroller_b.jpg",
		},
		{
			ID:          "p3",
			Name:        "Luxury Stroller Model C",
			Description: "Compact and lightweight stroller designed for city use.",
			Price:       "$999.99",
			ImageURL:    "/images/stroller_c.jpg",
		},
	}
}

// Stroller 详情页使用的商品
func Stroller() ProductDetail {
	return ProductDetail{
		ID:          "stroller123",
		Name:        "Luxury Baby Stroller",
		Description: "A premium stroller with superior comfort and safety features.",
		Price:       999.99,
		Currency:    "USD",
		Images: []string{
			"https://example.com/images/stroller123-front.jpg",
			"https://example.com/images/stroller123-side.jpg",
		},
		Specs: []Spec{
			{Key: "weight", Label: "Weight", Value: "15kg"},
			{Key: "max_load", Label: "Max load", Value: "22kg"},
			{Key: "foldable", Label: "Foldable", Value: true},
			{Key: "material", Label: "Material", Value: "Aluminum frame"},
			{Key: "wheels", Label: "Wheels", Value: "All-terrain rubber"},
		},
	}
}

// CartEntry 加入购物车后的条目
func CartEntry(quantity int) CartItem {
	return CartItem{
		ID:        "item123",
		ProductID: "prod567",
		Name:      "Luxury Baby Stroller Model X",
		Quantity:  quantity,
		Price:     999.99,
	}
}

// Orders 后台订单
func Orders() []Order {
	return []Order{
		{
			ID:     "order123",
			Status: "pending",
			Items:  []OrderItem{{ProductID: "prod1", Quantity: 2}, {ProductID: "prod2", Quantity: 1}},
			Total:  299.99,
		},
		{
			ID:     "order456",
			Status: "shipped",
			Items:  []OrderItem{{ProductID: "prod3", Quantity: 1}},
			Total:  149.99,
		},
	}
}
