package models

import "time"

// WalletSnapshot is the latest balance state observed from blockchain response
// topics. It is display state only; the backend remains the source of truth.
type WalletSnapshot struct {
	FiatBalance   float64   `json:"saldoPesos"`
	CryptoBalance float64   `json:"saldoCrypto"`
	UpdatedAt     time.Time `json:"updatedAt"`
	LastTopic     string    `json:"lastTopic,omitempty"`
}

// StockEntry накапливается из событий stock.actualizado для каталога.
type StockEntry struct {
	MerchantID   string    `json:"comercioId"`
	MerchantName string    `json:"comercioNombre,omitempty"`
	ProductID    string    `json:"productoId"`
	ProductName  string    `json:"productoNombre,omitempty"`
	Price        float64   `json:"precio,omitempty"`
	Quantity     int       `json:"cantidad,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
