package ingest

import "finanzas/internal/core"

// testRules mirrors the production rules document at fixture scale: two
// units, both roles, the 2x2 rate table with promotions, three month
// columns and the two sheet shapes.
func testRules() *Rules {
	return &Rules{
		Units: []UnitRule{
			{ID: 1, Name: "Rockstar Skull"},
			{ID: 2, Name: "Symbiot"},
		},
		Roles: map[Role]RoleRule{
			RolePartner: {
				FallbackID: 3,
				Canonical: map[int64]string{
					1: "Marco Delgado",
					2: "Antonio Razo",
					3: "Hugo Vázquez",
					4: "Escuela",
				},
				Aliases: map[string]int64{
					"Marco Delgado": 1,
					"Antonio Razo":  2,
					"Hugo Vázquez":  3,
					"Hugo Vazquez":  3,
					"Escuela":       4,
				},
			},
			RoleTeacher: {
				FallbackID: 1,
				Canonical: map[int64]string{
					1: "Hugo Vázquez",
					2: "Julio Olvera",
				},
				Aliases: map[string]int64{
					"Hugo Vázquez": 1,
					"Hugo Vazquez": 1,
					"Julio Olvera": 2,
				},
			},
		},
		Pricing: PricingRule{
			IndividualPickup:   amt("1800"),
			GroupPickup:        amt("1350"),
			IndividualNoPickup: amt("1350"),
			GroupNoPickup:      amt("1500"),
		},
		Promotions: []PromotionRule{
			{Match: "beca", Price: amt("0")},
			{Match: "staff", Price: amt("0")},
			{Match: "paquete", Price: amt("1200")},
		},
		Months: []MonthColumn{
			{Label: "Enero", Year: 2024, Month: 1},
			{Label: "Febrero", Year: 2024, Month: 2},
			{Label: "Julio2", Year: 2024, Month: 7},
		},
		Sheets: []SheetSchema{
			{
				Name:      "Ingresos Symbiot",
				Shape:     ShapeFlat,
				Kind:      core.Income,
				UnitID:    2,
				CreatorID: 1,
				Columns: map[string]string{
					ColDate:          "Fecha",
					ColConcept:       "Proyecto",
					ColUnitPrice:     "Precio (MXN)",
					ColPaymentMethod: "Tipo de pago",
				},
				DefaultConcept:       "Proyecto Symbiot",
				DefaultCounterparty:  "Marco Delgado",
				DefaultPaymentMethod: "Transferencia",
				FixedQuantity:        amt("1"),
			},
			{
				Name:      "Ingresos RockstarSkull",
				Shape:     ShapeMonthlyGrid,
				UnitID:    1,
				CreatorID: 3,
				Columns: map[string]string{
					ColStudentName:   "Alumno",
					ColTeacher:       "Maestro",
					ColSubject:       "Clase",
					ColClassMode:     "Tipo de Clase",
					ColPromotion:     "Promoción",
					ColPickup:        "Domiciliado",
					ColQuantity:      "Cantidad",
					ColPaymentMethod: "Forma de Pago",
					ColStatus:        "Estatus",
				},
				DefaultPaymentMethod: "Efectivo",
			},
		},
	}
}

func amt(s string) Amount {
	return Amount{Decimal: core.MustAmount(s)}
}
