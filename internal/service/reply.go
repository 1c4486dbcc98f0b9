package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wificontrol/wificontrol-pro/internal/domain"
)

const unknownReply = "Não entendi sua solicitação. Posso alterar a senha ou o nome da sua rede Wi-Fi. " +
	"Exemplos: \"Quero mudar minha senha para 12345678\" ou \"Muda o nome do meu wifi para Casa do João\"."

func interpretationFailureReply(err error) string {
	if isTemporary(err) {
		return "Estamos com instabilidade para processar sua mensagem. Tente novamente em alguns minutos."
	}
	return "Não consegui entender sua mensagem. Pode reformular? Posso alterar a senha ou o nome da sua rede Wi-Fi."
}

var fieldLabels = map[domain.Field]string{
	domain.FieldPassword: "a senha do Wi-Fi",
	domain.FieldSSID:     "o nome da rede Wi-Fi",
}

// composeReply answers the customer with what changed and what did not
func composeReply(intent domain.Intent, result domain.CommandResult) string {
	if result.OK() {
		switch in := intent.(type) {
		case domain.ChangePassword:
			return "Pronto! A senha do seu Wi-Fi foi alterada. Reconecte seus dispositivos usando a nova senha."
		case domain.ChangeSSID:
			return fmt.Sprintf("Pronto! O nome da sua rede Wi-Fi agora é \"%s\".", in.NewSSID)
		}
	}

	if result.Err != nil {
		switch {
		case domain.IsExecutorKind(result.Err, domain.ExecutorConfigurationMissing):
			return "Não foi possível aplicar a alteração agora porque seu roteador ainda não está configurado no sistema. Nossa equipe foi avisada."
		case domain.IsExecutorKind(result.Err, domain.ExecutorConnection):
			return "Não consegui me conectar ao seu roteador. Nenhuma alteração foi feita. Tente novamente mais tarde."
		}
	}

	if len(result.Applied) == 0 && len(result.Failures) == 1 {
		for field, err := range result.Failures {
			return "Não foi possível alterar " + fieldLabels[field] + ". " + failureHint(field, err)
		}
	}

	var b strings.Builder
	b.WriteString("Sua solicitação foi aplicada só em parte:")
	for _, field := range []domain.Field{domain.FieldPassword, domain.FieldSSID} {
		if result.Succeeded(field) {
			b.WriteString("\n- " + capitalize(fieldLabels[field]) + ": alterado(a).")
		} else if err, ok := result.Failures[field]; ok {
			b.WriteString("\n- " + capitalize(fieldLabels[field]) + ": não alterado(a). " + failureHint(field, err))
		}
	}
	return b.String()
}

func failureHint(field domain.Field, err error) string {
	if errors.Is(err, domain.ErrInvalidValue) {
		if field == domain.FieldPassword {
			return "A nova senha precisa ter entre 8 e 63 caracteres."
		}
		return "O nome da rede precisa ter entre 1 e 32 caracteres."
	}
	return "O roteador recusou o comando, tente novamente mais tarde."
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
