package chat

import "AssistantChat/internal/ai"

// ImagePlaceholder заменяет в истории изображение, отправленное пользователем.
// Само изображение после загрузки локально не хранится.
const ImagePlaceholder = "[Imagem enviada]"

// Turn: одна реплика в локальной истории чата.
type Turn struct {
	Role    ai.Role `json:"role"`
	Content string  `json:"content"`
}

// IsUser сообщает, что реплику написал пользователь.
func (t Turn) IsUser() bool { return t.Role == ai.RoleUser }

// IsImage сообщает, что реплика: заглушка отправленного изображения.
func (t Turn) IsImage() bool { return t.Role == ai.RoleUser && t.Content == ImagePlaceholder }

// HasPrefix сообщает, что turns начинается с prefix.
func HasPrefix(turns, prefix []Turn) bool {
	if len(prefix) > len(turns) {
		return false
	}
	for i := range prefix {
		if turns[i] != prefix[i] {
			return false
		}
	}
	return true
}
