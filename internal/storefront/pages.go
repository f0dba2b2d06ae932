package storefront

import (
	"html/template"
	"strings"
)

const layout = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{block "title" .}}Stroller Chic{{end}} | Stroller Chic</title>
<link rel="stylesheet" href="/assets/app.css">
</head>
<body>
<header class="site-header" role="banner">
<a class="brand" href="/">Stroller Chic</a>
<nav aria-label="Main">
<a href="/">Home</a>
<a href="/shop">Shop</a>
<a href="/cart">Cart</a>
<a href="/login">Login</a>
<a href="/register">Register</a>
</nav>
</header>
<main id="main">
{{block "content" .}}{{end}}
</main>
<footer class="site-footer" role="contentinfo"><p>&copy; Stroller Chic</p></footer>
</body>
</html>`

const homeContent = `{{define "title"}}Home{{end}}
{{define "content"}}
<section class="hero">
<h1>Welcome to Stroller Chic</h1>
<img class="hero-image" src="/images/hero.jpg" alt="Luxury stroller in the park">
<a class="cta" role="button" href="/shop">Shop Now</a>
</section>
<section class="featured">
<h2>Featured Products</h2>
{{range .}}<div class="product-item" data-id="{{.ID}}">
<img class="product-image" src="{{.ImageURL}}" alt="{{.Name}}">
<h3 class="product-name">{{.Name}}</h3>
<span class="product-price">{{.Price}}</span>
</div>
{{end}}</section>
{{end}}`

const shopContent = `{{define "title"}}Shop{{end}}
{{define "content"}}
<h1>Shop</h1>
<div id="product-grid" data-testid="product-list">
{{range .}}<div class="product-item" data-id="{{.ID}}">
<img class="product-image" src="{{.ImageURL}}" alt="{{.Name}}">
<h2 class="product-name">{{.Name}}</h2>
<p class="product-description">{{.Description}}</p>
<span class="product-price">{{.Price}}</span>
<a class="view-details" href="/product/{{.ID}}">View details</a>
</div>
{{end}}</div>
{{end}}`

const productContent = `{{define "title"}}{{.Name}}{{end}}
{{define "content"}}
<article class="product-detail" data-id="{{.ID}}">
<h1 class="product-title" data-testid="product-name">{{.Name}}</h1>
<div class="product-gallery" data-testid="product-images">
{{range .Images}}<img src="{{.}}" alt="{{$.Name}}">
{{end}}</div>
<span data-testid="product-price">{{.PriceText}}</span>
<p class="product-description">{{.Description}}</p>
<ul class="specifications">
{{range .Specs}}<li data-testid="spec-{{.Key}}">{{.Label}}: {{.Display}}</li>
{{end}}</ul>
<form method="post" action="/cart/items">
<input type="hidden" name="productId" value="{{.ID}}">
<input type="hidden" name="quantity" value="1">
<button type="submit" id="add-to-cart">Add to Cart</button>
</form>
</article>
{{end}}`

const cartContent = `{{define "title"}}Cart{{end}}
{{define "content"}}
<h1>Your Cart</h1>
{{if .}}<ul class="cart-items">
{{range .}}<li class="cart-item" data-id="{{.ID}}">
<span class="cart-item-name">{{.Name}}</span>
<span class="cart-item-quantity">{{.Quantity}}</span>
</li>
{{end}}</ul>
<a class="checkout-link" href="/checkout">Proceed to checkout</a>
{{else}}<p class="cart-empty">Your cart is empty</p>
{{end}}
{{end}}`

const checkoutContent = `{{define "title"}}Checkout{{end}}
{{define "content"}}
<h1>Checkout</h1>
<div class="error-region" role="alert" aria-live="polite">
{{range .}}<p class="field-error">{{.}}</p>
{{end}}</div>
<form id="checkout-form" method="post" action="/checkout" novalidate>
<label for="shippingName">Full name</label>
<input id="shippingName" name="shippingName" placeholder="Full Name" required>
<label for="shippingAddress">Address</label>
<input id="shippingAddress" name="shippingAddress" placeholder="Address" required>
<label for="paymentCardNumber">Card number</label>
<input id="paymentCardNumber" name="paymentCardNumber" placeholder="Card Number" required>
<button type="submit">Place Order</button>
</form>
{{end}}`

const loginContent = `{{define "title"}}Login{{end}}
{{define "content"}}
<h1>Log in</h1>
<div class="error-region" role="alert">
{{range .}}<p class="field-error">{{.}}</p>
{{end}}</div>
<form id="login-form" method="post" action="/login" novalidate>
<label for="email">Email</label>
<input id="email" name="email" type="email" required>
<label for="password">Password</label>
<input id="password" name="password" type="password" required>
<button type="submit">Log in</button>
</form>
{{end}}`

const registerContent = `{{define "title"}}Register{{end}}
{{define "content"}}
<h1>Create an account</h1>
<div class="error-region" role="alert">
{{range .}}<p class="field-error">{{.}}</p>
{{end}}</div>
<form id="register-form" method="post" action="/register" novalidate>
<label for="username">Username</label>
<input id="username" name="username" required>
<label for="email">Email</label>
<input id="email" name="email" type="email" required>
<label for="password">Password</label>
<input id="password" name="password" type="password" required>
<label for="confirmPassword">Confirm password</label>
<input id="confirmPassword" name="confirmPassword" type="password" required>
<button type="submit">Register</button>
</form>
{{end}}`

const adminContent = `{{define "title"}}Admin Dashboard{{end}}
{{define "content"}}
<h1>Admin Dashboard</h1>
<section class="admin-panel">
<button type="button" class="add-product">Add Product</button>
<table class="orders">
<thead><tr><th>Order</th><th>Status</th><th>Total</th></tr></thead>
<tbody>
{{range .}}<tr class="order-row" data-id="{{.ID}}"><td>{{.ID}}</td><td class="order-status">{{.Status}}</td><td>{{printf "%.2f" .Total}}</td></tr>
{{end}}</tbody>
</table>
</section>
{{end}}`

var base = template.Must(template.New("layout").Parse(layout))

var pages = map[string]*template.Template{
	"home":     page(homeContent),
	"shop":     page(shopContent),
	"product":  page(productContent),
	"cart":     page(cartContent),
	"checkout": page(checkoutContent),
	"login":    page(loginContent),
	"register": page(registerContent),
	"admin":    page(adminContent),
}

func page(content string) *template.Template {
	return template.Must(template.Must(base.Clone()).Parse(content))
}

// render 渲染页面，模板和数据均为内置，执行失败属于编程错误
func render(name string, data any) string {
	var b strings.Builder
	if err := pages[name].ExecuteTemplate(&b, "layout", data); err != nil {
		panic("storefront: render " + name + ": " + err.Error())
	}
	return b.String()
}

// HomePage 首页
func HomePage(featured []Product) string { return render("home", featured) }

// ShopPage 商品列表页
func ShopPage(products []Product) string { return render("shop", products) }

// ProductPage 商品详情页
func ProductPage(d ProductDetail) string { return render("product", d) }

// CartPage 购物车页
func CartPage(items []CartItem) string { return render("cart", items) }

// CheckoutPage 结算页，errors 为表单校验提示
func CheckoutPage(errors ...string) string { return render("checkout", errors) }

// LoginPage 登录页
func LoginPage(errors ...string) string { return render("login", errors) }

// RegisterPage 注册页
func RegisterPage(errors ...string) string { return render("register", errors) }

// AdminPage 后台首页
func AdminPage(orders []Order) string { return render("admin", orders) }
