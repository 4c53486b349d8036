package service

import (
	"context"
	"strings"
	"testing"
)

// generateLongText creates realistic French administrative-style text of
// approximately pageCount pages (~3000 chars/page).
func generateLongText(pageCount int) string {
	paragraph := "CONSIDÉRANT que les parties souhaitent conclure un accord régissant les modalités " +
		"de divulgation des informations confidentielles, secrets commerciaux et données propriétaires " +
		"entre elles. EN CONSÉQUENCE, en contrepartie des engagements mutuels énoncés dans les présentes, " +
		"la partie réceptrice s'engage à conserver les informations confidentielles dans la plus stricte " +
		"confidentialité au seul bénéfice de la partie divulgatrice. La partie réceptrice ne peut, sans " +
		"l'accord écrit préalable de la partie divulgatrice, utiliser à son propre profit, publier, copier " +
		"ou divulguer à des tiers toute information confidentielle. Les obligations de confidentialité " +
		"survivent à la résiliation du présent accord pendant une durée de cinq (5) ans.\n\n"
	repeats := pageCount * 5
	var sb strings.Builder
	sb.Grow(len(paragraph) * repeats)
	for i := 0; i < repeats; i++ {
		sb.WriteString(paragraph)
	}
	return sb.String()
}

func BenchmarkChunker_SmallDoc(b *testing.B) {
	text := generateLongText(1)
	chunker := NewChunkerService(400, false)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = chunker.Chunk(ctx, text, 400)
	}
}

func BenchmarkChunker_LargeDoc(b *testing.B) {
	text := generateLongText(100)
	chunker := NewChunkerService(400, false)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = chunker.Chunk(ctx, text, 40000)
	}
}

func BenchmarkChunker_Hierarchical(b *testing.B) {
	text := generateLongText(50)
	chunker := NewChunkerService(400, true)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = chunker.Chunk(ctx, text, 20000)
	}
}
