// Package canned serves the localized replies used for TEST_DIALOG
// requests, which exercise the relay end to end without calling the AI
// backend.
package canned

import (
	"strings"
	"sync"
)

// DefaultLanguage is used for unknown or empty language codes.
const DefaultLanguage = "en"

var defaultReplies = map[string][]string{
	"en": {
		"Hello! This is a test response from the dialogue server.",
		"The connection works. I am ready to talk with you.",
		"Test received. Everything looks fine on my side.",
	},
	"it": {
		"Ciao! Questa è una risposta di prova dal server di dialogo.",
		"La connessione funziona. Sono pronto a parlare con te.",
		"Test ricevuto. Dal mio lato è tutto a posto.",
	},
	"es": {
		"¡Hola! Esta es una respuesta de prueba del servidor de diálogo.",
		"La conexión funciona. Estoy listo para hablar contigo.",
		"Prueba recibida. Todo está bien por mi parte.",
	},
	"fr": {
		"Bonjour ! Ceci est une réponse de test du serveur de dialogue.",
		"La connexion fonctionne. Je suis prêt à discuter avec vous.",
		"Test reçu. Tout va bien de mon côté.",
	},
	"de": {
		"Hallo! Dies ist eine Testantwort des Dialogservers.",
		"Die Verbindung funktioniert. Ich bin bereit, mit dir zu sprechen.",
		"Test empfangen. Auf meiner Seite ist alles in Ordnung.",
	},
}

// Service hands out replies per language in rotation. It is safe for
// concurrent use; each language keeps its own position.
type Service struct {
	mu      sync.Mutex
	replies map[string][]string
	next    map[string]int
}

// New returns a Service over the built-in reply set.
func New() *Service {
	return NewWithReplies(defaultReplies)
}

// NewWithReplies returns a Service over a custom reply set. Languages with
// no replies are ignored; DefaultLanguage must be present for the fallback
// to work.
func NewWithReplies(replies map[string][]string) *Service {
	s := &Service{
		replies: make(map[string][]string, len(replies)),
		next:    make(map[string]int, len(replies)),
	}
	for lang, list := range replies {
		if len(list) == 0 {
			continue
		}
		s.replies[normalize(lang)] = append([]string(nil), list...)
	}
	return s
}

// Reply returns the next reply for lang. Region suffixes ("it-IT", "en_US")
// are ignored and unknown languages fall back to DefaultLanguage. It returns
// "" only when no fallback exists.
func (s *Service) Reply(lang string) string {
	lang = normalize(lang)

	s.mu.Lock()
	defer s.mu.Unlock()

	list, ok := s.replies[lang]
	if !ok {
		lang = DefaultLanguage
		list = s.replies[lang]
	}
	if len(list) == 0 {
		return ""
	}

	i := s.next[lang]
	s.next[lang] = (i + 1) % len(list)
	return list[i]
}

// Languages reports how many languages have replies.
func (s *Service) Languages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replies)
}

func normalize(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}
