package model

import "math"

// QuantityScale количество знаков после запятой в колонке quantity (NUMERIC(18,2))
const QuantityScale = 2

var quantityFactor = math.Pow10(QuantityScale)

// RoundQuantity приводит количество к масштабу леджера.
// Все сравнения ёмкости выполняются над округлёнными значениями,
// иначе двоичная погрешность float64 даёт ложные переполнения.
func RoundQuantity(q float64) float64 {
	r := math.Round(q*quantityFactor) / quantityFactor
	if r == 0 {
		return 0 // без -0
	}
	return r
}
